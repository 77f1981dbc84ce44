// Package config loads the settings of the command line tool.
//
// Settings are read from an optional HCL file, then overridden by TDX_ATTEST_* environment variables.
// Variables may also be set in a .env file, which never overrides the process environment.
// Command line flags are applied by the caller and take precedence over both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/edgelesssys/go-tdx-attestation/endorsement"
	"github.com/hashicorp/hcl"
	"github.com/hashicorp/hcl/hcl/ast"
	"github.com/hashicorp/hcl/hcl/scanner"
	"github.com/hashicorp/hcl/hcl/token"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "TDX_ATTEST_"

// Config holds the settings of the command line tool.
type Config struct {
	LogLevel string `hcl:"log_level"`
	// IntelRootCA is a PEM file replacing the built-in Intel SGX Root CA.
	IntelRootCA string `hcl:"intel_root_ca"`
	// GCERootCA is a PEM file with the root certificate of GCE launch endorsements.
	GCERootCA         string `hcl:"gce_root_ca"`
	EndorsementBucket string `hcl:"endorsement_bucket"`
	EndorsementPrefix string `hcl:"endorsement_prefix"`
	AnonymousGCS      bool   `hcl:"anonymous_gcs"`
	CheckRevocation   bool   `hcl:"check_revocation"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel:          logrus.InfoLevel.String(),
		EndorsementBucket: endorsement.DefaultBucket,
		EndorsementPrefix: endorsement.DefaultPrefix,
	}
}

// Load reads the config file at path and applies environment overrides.
// An empty path skips the file, as does an empty envFile.
// Unknown keys in the config file are an error.
// A missing .env file is ignored, a missing config file is not.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}

	env, err := environment(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses data into cfg. Unknown keys and assignments without a value are rejected.
func decode(cfg *Config, data []byte) error {
	if err := checkAssignments(data); err != nil {
		return err
	}
	file, err := hcl.ParseBytes(data)
	if err != nil {
		return err
	}
	list, ok := file.Node.(*ast.ObjectList)
	if !ok {
		return errors.New("config file must be an object")
	}

	known := keys()
	for _, item := range list.Items {
		if len(item.Keys) == 0 {
			continue
		}
		key := strings.Trim(item.Keys[0].Token.Text, `"`)
		if !known[key] {
			return fmt.Errorf("line %d: unknown key %q", item.Keys[0].Token.Pos.Line, key)
		}
	}
	return hcl.DecodeObject(cfg, file)
}

// checkAssignments returns an error for an "=" not followed by a value on the same line.
// The HCL parser drops such assignments without an error.
func checkAssignments(data []byte) error {
	s := scanner.New(data)
	s.Error = func(token.Pos, string) {} // reported by the parser

	var assign token.Pos
	for {
		tok := s.Scan()
		if tok.Type == token.COMMENT {
			continue
		}
		if assign.IsValid() && (tok.Type == token.EOF || tok.Pos.Line > assign.Line) {
			return fmt.Errorf("line %d: missing value after =", assign.Line)
		}
		assign = token.Pos{}
		switch tok.Type {
		case token.EOF:
			return nil
		case token.ASSIGN:
			assign = tok.Pos
		}
	}
}

// keys returns the HCL keys of Config.
func keys() map[string]bool {
	known := map[string]bool{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if key, _, _ := strings.Cut(t.Field(i).Tag.Get("hcl"), ","); key != "" {
			known[key] = true
		}
	}
	return known
}

// Level returns the parsed log level.
func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

// environment returns the variables of envFile overlaid with the process environment.
func environment(envFile string) (map[string]string, error) {
	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

func (c *Config) applyEnv(env map[string]string) error {
	strs := map[string]*string{
		"LOG_LEVEL":          &c.LogLevel,
		"INTEL_ROOT_CA":      &c.IntelRootCA,
		"GCE_ROOT_CA":        &c.GCERootCA,
		"ENDORSEMENT_BUCKET": &c.EndorsementBucket,
		"ENDORSEMENT_PREFIX": &c.EndorsementPrefix,
	}
	for key, field := range strs {
		if v, ok := env[EnvPrefix+key]; ok {
			*field = v
		}
	}

	bools := map[string]*bool{
		"ANONYMOUS_GCS":    &c.AnonymousGCS,
		"CHECK_REVOCATION": &c.CheckRevocation,
	}
	for key, field := range bools {
		v, ok := env[EnvPrefix+key]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
		}
		*field = b
	}
	return nil
}
