// 为运维签发访问 /embeddings/generate、/movies/store/:page 的令牌
package main

import (
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/user/movierec/internal/config"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/middleware"
	"github.com/user/movierec/internal/model"
)

func main() {
	email := flag.String("email", "ops@localhost", "令牌中的邮箱")
	role := flag.String("role", "admin", "角色，admin 才能调用管理接口")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"})

	token, err := middleware.GenerateToken(model.Identity{Email: *email, Role: *role}, cfg.AppSecret, cfg.JWTExpiry)
	if err != nil {
		logging.Fatal().Err(err).Msg("签发令牌失败")
	}
	logging.Info().Str("email", *email).Str("role", *role).Dur("expiry", cfg.JWTExpiry).Msg("令牌已签发")
	fmt.Println(token)
}
