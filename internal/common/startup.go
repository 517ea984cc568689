package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	commonconfig "github.com/dinvlad/jade-data-repo/internal/common/config"
	"github.com/dinvlad/jade-data-repo/internal/common/serve"
)

const envPrefix = "DATAREPO"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads the default config file found in defaultPath, merges any override files on top of it and
// finally applies environment variables prefixed with DATAREPO_.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) *viper.Viper {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		log.Errorf("Error reading base config path=%s: %v", defaultPath, err)
		os.Exit(-1)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		err := v.MergeInConfig()
		if err != nil {
			log.Errorf("Error reading config from %s: %v", overrideConfig, err)
			os.Exit(-1)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	err := v.Unmarshal(config, commonconfig.CustomHooks...)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}

	return v
}

func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ConfigureCommandLineLogging is used by the command line tools, which print their own output.
func ConfigureCommandLineLogging() {
	commandLineFormatter := new(commandLineFormatter)
	log.SetFormatter(commandLineFormatter)
	log.SetOutput(os.Stderr)
}

// ConfigureLogMetrics counts logged lines per level.
func ConfigureLogMetrics() {
	log.AddHook(promrus.MustNewPrometheusHook())
}

// ServeMetrics exposes the default prometheus registry on port until ctx is cancelled.
func ServeMetrics(ctx context.Context, port uint16) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return serve.ListenAndServe(ctx, &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	})
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}

type commandLineFormatter struct{}

func (commandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(entry.Message + "\n"), nil
}
