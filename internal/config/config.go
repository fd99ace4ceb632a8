package config

import (
	"flag"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	Storage  string `yaml:"storage" env:"STORAGE" env-default:"postgres" env-description:"Storage backend" env-choices:"postgres,memory"`
	HTTP     `yaml:"http"`
	Postgres `yaml:"postgres"`
	Auth     `yaml:"auth"`
	Ledger   `yaml:"ledger"`
	Relay    `yaml:"relay"`
}

type HTTP struct {
	Host         string        `yaml:"host" env:"HTTP_HOST" env-default:"localhost"`
	Port         int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host         string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port         string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User         string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass         string `yaml:"pass" env:"POSTGRES_PASSWORD" env-default:"12345"`
	Db           string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
	SSLMode      string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	MaxOpenConns int    `yaml:"max_open_conns" env-default:"20"`
	MaxIdleConns int    `yaml:"max_idle_conns" env-default:"5"`
}

type Auth struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	TokenTTL        time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
	BcryptCost      int           `yaml:"bcrypt_cost" env-default:"12"`
	LoginRate       float64       `yaml:"login_rate" env-default:"1"`
	LoginBurst      int           `yaml:"login_burst" env-default:"5"`
	SessionPurge    time.Duration `yaml:"session_purge" env-default:"10m"`
	BootstrapAdmins []string      `yaml:"bootstrap_admins" env:"BOOTSTRAP_ADMINS" env-separator:","`
}

type Ledger struct {
	MaxAttempts uint          `yaml:"max_attempts" env-default:"3"`
	LockTimeout time.Duration `yaml:"lock_timeout" env-default:"2s"`
}

type Relay struct {
	Buffer  int  `yaml:"buffer" env-default:"32"`
	Persist bool `yaml:"persist" env:"RELAY_PERSIST" env-default:"true"`
}

// DSN builds a lib/pq connection url with the credentials escaped.
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Pass),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Db,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if path == "" {
		panic("config path is empty")
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the yaml file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, err
	}

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
