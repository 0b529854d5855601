package cmn

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config encapsulates every configuration value read at manager
// construction time (spec §6 "Configuration surface").
type Config struct {
	Node NodeConf `yaml:"node"`

	// ReplicaCount is `r`: fragments replicate to 1+r storage engines.
	ReplicaCount int `yaml:"replica_count"`
	// FragmentsPerEngine is `k`, used for rebalance sizing.
	FragmentsPerEngine int `yaml:"fragments_per_engine"`
	// PrefixTableThreshold is the initial prefix-frequency flush threshold.
	PrefixTableThreshold int64 `yaml:"prefix_table_threshold"`

	// StorageEngines is the raw static engine list string, format:
	// "host#port#kind#key=value#...", comma-separated.
	StorageEngines string `yaml:"storage_engines"`

	Admin AdminConf `yaml:"admin"`

	// MetaStorage selects the backend: "zookeeper", "etcd", "file", or "".
	MetaStorage string     `yaml:"meta_storage"`
	ZooKeeper   ZKConf     `yaml:"zookeeper"`
	Etcd        EtcdConf   `yaml:"etcd"`
	File        FileConf   `yaml:"file"`
}

type NodeConf struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AdminConf struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ZKConf struct {
	Endpoints []string `yaml:"endpoints"`
	Namespace string   `yaml:"namespace"`
}

type EtcdConf struct {
	Endpoints []string `yaml:"endpoints"`
	Namespace string   `yaml:"namespace"`
}

type FileConf struct {
	Path string `yaml:"path"`
}

// LoadConfig reads and parses a YAML configuration file. Parsing itself is
// ambient scaffolding around the core (spec §1 excludes "configuration file
// parsing" as a collaborator concern); this loader exists so cmd/metacored
// has something concrete to call.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg := &Config{
		ReplicaCount:         1,
		FragmentsPerEngine:   1,
		PrefixTableThreshold: 1000,
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// EngineSpec is one parsed element of Config.StorageEngines.
type EngineSpec struct {
	Host   string
	Port   string
	Kind   string
	Params map[string]string
}

// ParseStorageEngines parses the static engine list: entries are
// comma-separated, each entry is "host#port#kind#key=value#key2=value2...".
func ParseStorageEngines(s string) ([]EngineSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	entries := strings.Split(s, ",")
	specs := make([]EngineSpec, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		fields := strings.Split(e, "#")
		if len(fields) < 3 {
			return nil, fmt.Errorf("invalid storage engine spec %q: need host#port#kind[#k=v...]", e)
		}
		spec := EngineSpec{Host: fields[0], Port: fields[1], Kind: fields[2], Params: map[string]string{}}
		for _, kv := range fields[3:] {
			if kv == "" {
				continue
			}
			kv = strings.Trim(kv, `"`)
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid storage engine param %q in spec %q", kv, e)
			}
			spec.Params[parts[0]] = parts[1]
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e EngineSpec) Endpoint() string {
	return e.Host + ":" + e.Port
}

// ParsePort converts a decimal port string to an int.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
