package logger

import (
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/sirupsen/logrus"
)

func New(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	appCfg := cfg.GetAppConfig()
	log.SetLevel(logrus.Level(appCfg.LogLevel))
	if appCfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			// DisableColors: true,
			FullTimestamp: true,
		})
	}

	return log
}
