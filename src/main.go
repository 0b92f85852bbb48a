package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/configs/database"
	"snap-answer-server/src/configs/server"
	"snap-answer-server/src/core/answer"
	"snap-answer-server/src/core/auth"
	"snap-answer-server/src/core/camera"
	"snap-answer-server/src/core/events"
	"snap-answer-server/src/core/health"
	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"
	"snap-answer-server/src/vision"

	// 导入所有providers以确保init函数被调用
	_ "snap-answer-server/src/core/providers/vlllm/gemini"
	_ "snap-answer-server/src/core/providers/vlllm/ollama"
	_ "snap-answer-server/src/core/providers/vlllm/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// services 启动后需要在退出时清理的组件
type services struct {
	vision *vision.DefaultVisionService
	store  *database.SettingsStore
}

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// InitSettingsStore 连接数据库，未设置 DATABASE_URL 时返回 nil，运行时配置不持久化
func InitSettingsStore(logger *utils.Logger) (*database.SettingsStore, error) {
	db, dbType, err := database.InitDB()
	if errors.Is(err, database.ErrNotConfigured) {
		logger.Info("未设置 DATABASE_URL，运行时配置将不会被保存")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	store, err := database.NewSettingsStore(db)
	if err != nil {
		return nil, err
	}
	logger.Info("数据库连接成功: %s", dbType)
	return store, nil
}

// InitProvider 创建配置文件中选择的VLLLM提供者。缺少凭证返回 *vlllm.AuthConfigError；
// 未选择提供者时返回 nil，服务照常启动，可以通过 /api/cfg 选择
func InitProvider(config *configs.Config, logger *utils.Logger) (vlllm.AnswerProvider, error) {
	selected := config.SelectedModule["VLLLM"]
	if selected == "" {
		logger.Warn("selected_module 中未设置 VLLLM，回答功能不可用，直到通过 /api/cfg 选择提供者")
		return nil, nil
	}
	vlllmConfig, ok := config.VLLLM[selected]
	if !ok {
		return nil, fmt.Errorf("未找到VLLLM配置: %s", selected)
	}
	provider, err := vlllm.Create(selected, vlllmConfig, config.DefaultPrompt, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("VLLLM provider %s 初始化成功", selected)
	return provider, nil
}

// InitCamera 创建摄像头后端和会话
func InitCamera(config *configs.Config, logger *utils.Logger) (*camera.Session, error) {
	devices, err := camera.NewMediaDevices(config.Camera, logger)
	if err != nil {
		return nil, err
	}
	opts := camera.Options{JPEGQuality: config.Camera.JPEGQuality}
	if config.Camera.FocusDelay != "" {
		d, err := time.ParseDuration(config.Camera.FocusDelay)
		if err != nil {
			return nil, fmt.Errorf("无效的 focus_delay %q: %w", config.Camera.FocusDelay, err)
		}
		opts.FocusDelay = d
	}
	logger.Info("摄像头后端: %s", config.Camera.Backend)
	return camera.NewSession(devices, opts, logger), nil
}

func StartHttpServer(config *configs.Config, logger *utils.Logger, provider vlllm.AnswerProvider, g *errgroup.Group, groupCtx context.Context) (*services, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	store, err := InitSettingsStore(logger)
	if err != nil {
		return nil, fmt.Errorf("数据库初始化失败: %w", err)
	}
	svc := &services{store: store}

	answers := answer.NewOrchestrator(provider, logger)

	// 认证对 /api 下的所有路由生效
	authenticator, err := auth.NewAuthenticator(config, logger)
	if err != nil {
		return svc, err
	}

	// 启动Cfg服务，已保存的选择优先于配置文件
	var settings server.SettingsStore
	if store != nil {
		settings = store
	}
	cfgService, err := server.NewDefaultCfgService(config, answers, settings, authenticator, logger)
	if err != nil {
		return svc, err
	}
	restored, err := cfgService.Restore(groupCtx)
	if err != nil {
		logger.Warn("%v，继续使用配置文件中的选择", err)
	} else if restored != nil {
		answers.SetProvider(restored)
	}
	if err := cfgService.Start(groupCtx, router, apiGroup); err != nil {
		return svc, err
	}

	cam, err := InitCamera(config, logger)
	if err != nil {
		return svc, err
	}

	security := configs.DefaultSecurityConfig()
	if vc, ok := config.VLLLM[config.SelectedModule["VLLLM"]]; ok {
		security = vc.Security
	}
	processor := image.NewImageProcessor(security, logger)

	// 启动Vision服务
	visionService, err := vision.NewDefaultVisionService(config, answers, cam, processor, events.NewHub(logger), authenticator, logger)
	if err != nil {
		logger.Error("Vision 服务初始化失败 %v", err)
		return svc, err
	}
	svc.vision = visionService
	if err := visionService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("Vision 服务启动失败 %v", err)
		return svc, err
	}

	// 连通性检查在后台执行，失败只记录日志
	connConfig, err := health.ConfigFromYAML(&config.ConnectivityCheck)
	if err != nil {
		return svc, err
	}
	checker := health.NewHealthChecker(config, connConfig, logger)
	if err := checker.Start(groupCtx, router, apiGroup.Group("", authenticator.Middleware())); err != nil {
		return svc, err
	}
	if connConfig.Enabled {
		g.Go(func() error {
			if err := checker.CheckSelected(groupCtx); err != nil {
				logger.Warn("VLLLM连通性检查未通过: %v", err)
			}
			checker.PrintReport()
			return nil
		})
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://%s", httpServer.Addr))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败: %v", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return svc, nil
}

func (s *services) cleanup(logger *utils.Logger) {
	if s == nil {
		return
	}
	if s.vision != nil {
		s.vision.Cleanup()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("关闭数据库失败: %v", err)
		}
	}
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 服务自行退出时无需等待信号
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case sig := <-sigChan:
		logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))
	case err := <-done:
		if err != nil {
			logger.Error("服务异常退出: %v", err)
			os.Exit(1)
		}
		return
	}

	// 取消上下文，通知所有服务开始关闭
	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误: %v", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	// 凭证可能来自 .env，必须在创建provider之前加载
	envErr := godotenv.Load()

	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}
	defer logger.Close()
	if envErr != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	// 缺少凭证时客户端不可用，直接退出
	provider, err := InitProvider(config, logger)
	if err != nil {
		var authErr *vlllm.AuthConfigError
		if errors.As(err, &authErr) {
			logger.Error("VLLLM凭证未配置: %v", err)
		} else {
			logger.Error("VLLLM provider 初始化失败: %v", err)
		}
		logger.Close()
		os.Exit(1)
	}

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, groupCtx := errgroup.WithContext(ctx)

	svc, err := StartHttpServer(config, logger, provider, g, groupCtx)
	if err != nil {
		logger.Error("启动服务失败: %v", err)
		cancel()
		svc.cleanup(logger)
		logger.Close()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)
	svc.cleanup(logger)

	logger.Info("程序已成功退出")
}
