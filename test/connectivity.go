package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/health"
	"snap-answer-server/src/core/utils"

	// 导入所有providers以确保init函数被调用
	_ "snap-answer-server/src/core/providers/vlllm/gemini"
	_ "snap-answer-server/src/core/providers/vlllm/ollama"
	_ "snap-answer-server/src/core/providers/vlllm/openai"

	"github.com/joho/godotenv"
)

func main() {
	functional := flag.Bool("functional", false, "发送测试图片进行功能性检查")
	all := flag.Bool("all", false, "检查所有已配置的VLLLM，而不只是 selected_module 中选择的")
	flag.Parse()

	fmt.Println("=== VLLLM 连通性检查 ===")
	_ = godotenv.Load()

	config, path, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("使用配置文件: %s", path)

	logger, err := utils.NewLogger(config)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}
	defer logger.Close()

	connConfig, err := health.ConfigFromYAML(&config.ConnectivityCheck)
	if err != nil {
		logger.Warn("解析连通性检查配置失败，使用默认配置: %v", err)
		connConfig = health.DefaultConnectivityConfig()
	}
	// 命令行运行时总是执行检查
	connConfig.Enabled = true
	if *functional {
		connConfig.Mode = health.FunctionalCheck
	}

	fmt.Printf("检查模式: %s, 超时: %v\n", connConfig.Mode, connConfig.Timeout)

	checker := health.NewHealthChecker(config, connConfig, logger)
	ctx := context.Background()
	if *all {
		err = checker.CheckAllProviders(ctx)
	} else {
		err = checker.CheckSelected(ctx)
	}
	checker.PrintReport()

	if err != nil {
		fmt.Printf("检查失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("检查通过")
}
