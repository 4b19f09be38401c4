// Package config loads the settings shared by the coordinator, worker and
// observer commands.
//
// Values are resolved in three layers: an optional YAML file, then SMS_*
// environment variables, then command-line flags applied by the caller.
// Anything still unset after those layers receives a default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/smsalert/internal/coordinator"
	"github.com/dreamware/smsalert/internal/observer"
	"github.com/dreamware/smsalert/internal/transport"
	"github.com/dreamware/smsalert/internal/worker"
)

// Default ports and workload.
const (
	DefaultCoordinatorPort = 6000
	DefaultObserverPort    = 5999
	DefaultWorkerPort      = 6001
	DefaultItems           = 1000
	DefaultMeanTime        = 10 * time.Second
	DefaultFailureRate     = 0.2
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SMS_"

// Config is the complete configuration of one process.
type Config struct {
	Network     Network     `yaml:"network"`
	Log         Log         `yaml:"log"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Coordinator Coordinator `yaml:"coordinator"`
	Worker      Worker      `yaml:"worker"`
	Observer    Observer    `yaml:"observer"`
}

// Network holds settings common to every role's TCP traffic.
type Network struct {
	Host        string        `yaml:"host"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Log selects the logger level and encoder.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Coordinator configures the producer role.
type Coordinator struct {
	Port        int           `yaml:"port"`
	MonitorPort int           `yaml:"monitor_port"`
	MsgNum      *int          `yaml:"msg_num"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Worker configures a sender role.
type Worker struct {
	Port             int           `yaml:"port"`
	ProducerPort     int           `yaml:"producer_port"`
	MeanTime         time.Duration `yaml:"mean_time"`
	Spread           time.Duration `yaml:"spread"`
	FailureRate      *float64      `yaml:"failure_rate"`
	RegisterAttempts int           `yaml:"register_attempts"`
	RegisterBackoff  time.Duration `yaml:"register_backoff"`
	Seed             uint64        `yaml:"seed"`
}

// Observer configures the monitoring role.
type Observer struct {
	Port         int           `yaml:"port"`
	ProducerPort int           `yaml:"producer_port"`
	Interval     time.Duration `yaml:"interval"`
}

// Load reads path, when not empty, overlays the process environment and
// fills defaults. Validation is left to the caller so flags can still be
// applied on top.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// envBinding ties one environment variable to the field it sets.
type envBinding struct {
	set func(string) error
	key string
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	bindings := []envBinding{
		{key: "HOST", set: setString(&cfg.Network.Host)},
		{key: "DIAL_TIMEOUT", set: setDuration(&cfg.Network.DialTimeout)},
		{key: "READ_TIMEOUT", set: setDuration(&cfg.Network.ReadTimeout)},
		{key: "LOG_LEVEL", set: setString(&cfg.Log.Level)},
		{key: "LOG_DEV", set: setBool(&cfg.Log.Development)},
		{key: "METRICS_ADDR", set: setString(&cfg.MetricsAddr)},
		{key: "COORDINATOR_PORT", set: setInt(&cfg.Coordinator.Port)},
		{key: "COORDINATOR_MONITOR_PORT", set: setInt(&cfg.Coordinator.MonitorPort)},
		{key: "COORDINATOR_MSG_NUM", set: setIntPtr(&cfg.Coordinator.MsgNum)},
		{key: "COORDINATOR_GRACE_PERIOD", set: setDuration(&cfg.Coordinator.GracePeriod)},
		{key: "WORKER_PORT", set: setInt(&cfg.Worker.Port)},
		{key: "WORKER_PRODUCER_PORT", set: setInt(&cfg.Worker.ProducerPort)},
		{key: "WORKER_MEAN_TIME", set: setDuration(&cfg.Worker.MeanTime)},
		{key: "WORKER_SPREAD", set: setDuration(&cfg.Worker.Spread)},
		{key: "WORKER_FAILURE_RATE", set: setFloat(&cfg.Worker.FailureRate)},
		{key: "WORKER_SEED", set: setUint(&cfg.Worker.Seed)},
		{key: "OBSERVER_PORT", set: setInt(&cfg.Observer.Port)},
		{key: "OBSERVER_PRODUCER_PORT", set: setInt(&cfg.Observer.ProducerPort)},
		{key: "OBSERVER_INTERVAL", set: setDuration(&cfg.Observer.Interval)},
	}

	var errs []error
	for _, b := range bindings {
		v := getenv(EnvPrefix + b.key)
		if v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err))
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setIntPtr(dst **int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = &n
		return nil
	}
}

func setUint(dst *uint64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setFloat(dst **float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = &f
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// applyDefaults fills every field left at its zero value.
func applyDefaults(cfg *Config) {
	if cfg.Network.Host == "" {
		cfg.Network.Host = transport.DefaultHost
	}
	if cfg.Network.DialTimeout == 0 {
		cfg.Network.DialTimeout = transport.DefaultDialTimeout
	}
	if cfg.Network.ReadTimeout == 0 {
		cfg.Network.ReadTimeout = transport.DefaultReadTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Coordinator.Port == 0 {
		cfg.Coordinator.Port = DefaultCoordinatorPort
	}
	if cfg.Coordinator.MonitorPort == 0 {
		cfg.Coordinator.MonitorPort = DefaultObserverPort
	}
	if cfg.Coordinator.MsgNum == nil {
		items := DefaultItems
		cfg.Coordinator.MsgNum = &items
	}
	if cfg.Coordinator.GracePeriod == 0 {
		cfg.Coordinator.GracePeriod = coordinator.DefaultGracePeriod
	}

	if cfg.Worker.Port == 0 {
		cfg.Worker.Port = DefaultWorkerPort
	}
	if cfg.Worker.ProducerPort == 0 {
		cfg.Worker.ProducerPort = DefaultCoordinatorPort
	}
	if cfg.Worker.MeanTime == 0 {
		cfg.Worker.MeanTime = DefaultMeanTime
	}
	if cfg.Worker.Spread == 0 {
		cfg.Worker.Spread = worker.DefaultSpread
	}
	if cfg.Worker.FailureRate == nil {
		rate := DefaultFailureRate
		cfg.Worker.FailureRate = &rate
	}
	if cfg.Worker.RegisterAttempts == 0 {
		cfg.Worker.RegisterAttempts = worker.DefaultRegisterAttempts
	}
	if cfg.Worker.RegisterBackoff == 0 {
		cfg.Worker.RegisterBackoff = worker.DefaultRegisterBackoff
	}

	if cfg.Observer.Port == 0 {
		cfg.Observer.Port = DefaultObserverPort
	}
	if cfg.Observer.ProducerPort == 0 {
		cfg.Observer.ProducerPort = DefaultCoordinatorPort
	}
	if cfg.Observer.Interval == 0 {
		cfg.Observer.Interval = observer.DefaultInterval
	}
}

// Validate checks ranges and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	checkPort := func(name string, port int) {
		if port <= 0 || port > 65535 {
			problems = append(problems, name+" must be in 1..65535")
		}
	}
	checkPort("coordinator.port", c.Coordinator.Port)
	checkPort("coordinator.monitor_port", c.Coordinator.MonitorPort)
	checkPort("worker.port", c.Worker.Port)
	checkPort("worker.producer_port", c.Worker.ProducerPort)
	checkPort("observer.port", c.Observer.Port)
	checkPort("observer.producer_port", c.Observer.ProducerPort)

	if c.Coordinator.items() < 0 {
		problems = append(problems, "coordinator.msg_num must not be negative")
	}
	if c.Coordinator.GracePeriod < 0 {
		problems = append(problems, "coordinator.grace_period must not be negative")
	}
	if c.Worker.MeanTime < 0 {
		problems = append(problems, "worker.mean_time must not be negative")
	}
	if c.Worker.Spread < 0 {
		problems = append(problems, "worker.spread must not be negative")
	}
	if r := c.Worker.failureRate(); r < 0 || r > 1 {
		problems = append(problems, "worker.failure_rate must be in 0..1")
	}
	if c.Worker.RegisterAttempts < 1 {
		problems = append(problems, "worker.register_attempts must be at least 1")
	}
	if c.Observer.Interval <= 0 {
		problems = append(problems, "observer.interval must be positive")
	}
	if c.Network.DialTimeout <= 0 || c.Network.ReadTimeout <= 0 {
		problems = append(problems, "network timeouts must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c Coordinator) items() int {
	if c.MsgNum == nil {
		return DefaultItems
	}
	return *c.MsgNum
}

// SetMsgNum overrides the number of generated items.
func (c *Coordinator) SetMsgNum(n int) {
	c.MsgNum = &n
}

func (w Worker) failureRate() float64 {
	if w.FailureRate == nil {
		return DefaultFailureRate
	}
	return *w.FailureRate
}

// SetFailureRate overrides the worker failure probability.
func (w *Worker) SetFailureRate(rate float64) {
	w.FailureRate = &rate
}

// Client returns the TCP sender every role uses.
func (c *Config) Client() *transport.Client {
	return transport.NewClient(c.Network.Host, c.Network.DialTimeout)
}

// CoordinatorConfig maps the file layout onto coordinator.Config.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Host:         c.Network.Host,
		Port:         c.Coordinator.Port,
		ObserverPort: c.Coordinator.MonitorPort,
		Items:        c.Coordinator.items(),
		GracePeriod:  c.Coordinator.GracePeriod,
		ReadTimeout:  c.Network.ReadTimeout,
	}
}

// WorkerConfig maps the file layout onto worker.Config.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Host:             c.Network.Host,
		Port:             c.Worker.Port,
		CoordinatorPort:  c.Worker.ProducerPort,
		MeanTime:         c.Worker.MeanTime,
		Spread:           c.Worker.Spread,
		FailureRate:      c.Worker.failureRate(),
		RegisterAttempts: c.Worker.RegisterAttempts,
		RegisterBackoff:  c.Worker.RegisterBackoff,
		ReadTimeout:      c.Network.ReadTimeout,
		Seed:             c.Worker.Seed,
	}
}

// ObserverConfig maps the file layout onto observer.Config.
func (c *Config) ObserverConfig() observer.Config {
	return observer.Config{
		Host:            c.Network.Host,
		Port:            c.Observer.Port,
		CoordinatorPort: c.Observer.ProducerPort,
		Interval:        c.Observer.Interval,
		ReadTimeout:     c.Network.ReadTimeout,
	}
}
