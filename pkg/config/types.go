package config

// Config represents the main training configuration
type Config struct {
	LogLevel string   `yaml:"log_level"`
	Agent    Agent    `yaml:"agent"`
	Model    Model    `yaml:"model"`
	Strategy Strategy `yaml:"strategy"`
	Training Training `yaml:"training"`
	Storage  *Storage `yaml:"storage,omitempty"`
	Events   *Events  `yaml:"events,omitempty"`
}

// Agent holds the trading simulation parameters
type Agent struct {
	InitialMoney float64 `yaml:"initial_money"`
	MaxBuy       float64 `yaml:"max_buy"`
	MaxSell      float64 `yaml:"max_sell"`
	WindowSize   int     `yaml:"window_size"`
	Skip         int     `yaml:"skip"`
	TestSize     float64 `yaml:"test_size"` // fraction held out for replay, 0 replays the training series
}

// Model holds the policy network shape. The input width is Agent.WindowSize.
type Model struct {
	LayerSize  int `yaml:"layer_size"`
	OutputSize int `yaml:"output_size"`
}

// Strategy holds the evolution strategy hyper-parameters
type Strategy struct {
	PopulationSize int     `yaml:"population_size"`
	Sigma          float64 `yaml:"sigma"`
	LearningRate   float64 `yaml:"learning_rate"`
	Seed           int64   `yaml:"seed"`    // 0 seeds from the clock
	Workers        int     `yaml:"workers"` // 0 evaluates the whole population concurrently
}

// Training controls the length of a run and its reporting cadence
type Training struct {
	Iterations      int `yaml:"iterations"`
	ReportEvery     int `yaml:"report_every"`
	CheckpointEvery int `yaml:"checkpoint_every"` // 0 disables periodic weight snapshots
}

// Storage selects the persistence backend for runs and weights
type Storage struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// Events configures the optional Kafka event stream
type Events struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Default returns the configuration used when a field is left out of the YAML.
func Default() Config {
	return Config{
		LogLevel: "info",
		Agent: Agent{
			InitialMoney: 10000,
			MaxBuy:       5,
			MaxSell:      5,
			WindowSize:   30,
			Skip:         1,
		},
		Model: Model{
			LayerSize:  500,
			OutputSize: 3,
		},
		Strategy: Strategy{
			PopulationSize: 15,
			Sigma:          0.1,
			LearningRate:   0.03,
		},
		Training: Training{
			Iterations:  500,
			ReportEvery: 10,
		},
	}
}
