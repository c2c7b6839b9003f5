package main

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/chainwatch"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`

	NodeURL    string `env:"NODE_WS_URL,required=true"`
	IndexerURL string `env:"INDEXER_URL,required=true"`

	JWTSecret string `env:"JWT_SECRET"`
	APIKeys   string `env:"API_KEYS"`

	MaxSubscriptions int `env:"MAX_SUBSCRIPTIONS,default=10000"`
	MaxContracts     int `env:"MAX_CONTRACTS,default=50"`
	SweepSeconds     int `env:"SWEEP_INTERVAL_SECONDS,default=5"`
	HeadRetrySeconds int `env:"HEAD_RETRY_SECONDS,default=5"`
}
