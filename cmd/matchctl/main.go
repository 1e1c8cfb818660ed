// Command matchctl 在命令行驱动服务核心：打分、推荐、预热与健康检查。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/engine"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
	"github.com/Dexhub/planted-dating-app/profile"
)

var (
	configPath   string
	profilesPath string
)

var rootCmd = &cobra.Command{
	Use:          "matchctl",
	Short:        "Score and rank plant-based dating matches",
	Long:         "matchctl loads a matching engine from a YAML config and runs one operation against it.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&profilesPath, "profiles", "", "JSON file of user profiles to seed an in-memory profile store")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取配置文件；未指定时使用默认配置并应用环境变量。
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// openEngine 按全局 flag 创建 Engine，调用方负责 Close。
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(log)}
	if profilesPath != "" {
		users, err := loadProfiles(profilesPath)
		if err != nil {
			return nil, err
		}
		log.Info("seeded in-memory profile store", zap.String("path", profilesPath))
		opts = append(opts, engine.WithProfileStore(users))
	}
	return engine.New(ctx, cfg, opts...)
}

func loadProfiles(path string) (*profile.MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var profiles []*core.UserProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	users := profile.NewMemoryStore()
	for _, p := range profiles {
		users.Put(p)
	}
	return users, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
