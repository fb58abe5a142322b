package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	DBURL         string `mapstructure:"DB_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	CtlListenAddr string `mapstructure:"CTL_LISTEN_ADDR"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	MQTTBroker    string `mapstructure:"MQTT_BROKER"`
	MQTTClientID  string `mapstructure:"MQTT_CLIENT_ID"`
	MDNSLocalName string `mapstructure:"MDNS_LOCAL_NAME"`
	PictureDir    string `mapstructure:"PICTURE_DIR"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	Simulated     bool   `mapstructure:"SIMULATED"`
}

// LoadConfig reads configuration from file, .env, or env vars
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("CONFIG: no .env file loaded:", err)
	}

	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("LISTEN_ADDR", ":5069")
	viper.SetDefault("CTL_LISTEN_ADDR", ":5070")
	viper.SetDefault("MQTT_CLIENT_ID", "gardenia-backend")
	viper.SetDefault("MDNS_LOCAL_NAME", "gardenia-ctl.local")
	viper.SetDefault("PICTURE_DIR", "pictures")

	cfg := &Config{
		DBURL:         viper.GetString("DB_URL"),
		RedisAddr:     viper.GetString("REDIS_ADDR"),
		ListenAddr:    viper.GetString("LISTEN_ADDR"),
		CtlListenAddr: viper.GetString("CTL_LISTEN_ADDR"),
		JWTSecret:     viper.GetString("JWT_SECRET"),
		MQTTBroker:    viper.GetString("MQTT_BROKER"),
		MQTTClientID:  viper.GetString("MQTT_CLIENT_ID"),
		MDNSLocalName: viper.GetString("MDNS_LOCAL_NAME"),
		PictureDir:    viper.GetString("PICTURE_DIR"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
		Simulated:     viper.GetBool("SIMULATED"),
	}
	return cfg, nil
}
