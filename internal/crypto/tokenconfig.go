package crypto

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrBadPIN is returned when the token rejects the PIN.
var ErrBadPIN = errors.New("incorrect token PIN")

// TokenConfig locates a signing key on a PKCS#11 token.
type TokenConfig struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	SlotID      *uint
	PIN         string
	KeyLabel    string
	KeyID       string // hex encoded CKA_ID
}

// TokenFileConfig is the YAML description of a hardware token.
type TokenFileConfig struct {
	Type   string         `yaml:"type"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
}

// PKCS11Settings holds PKCS#11 specific configuration.
type PKCS11Settings struct {
	// Lib is the path to the PKCS#11 library (.so/.dylib/.dll)
	Lib string `yaml:"lib"`

	// Token identifies the token by label
	Token string `yaml:"token"`

	// TokenSerial identifies the token by serial number
	TokenSerial string `yaml:"token_serial"`

	// Slot identifies the token by slot ID
	Slot *uint `yaml:"slot"`

	// PinEnv names an environment variable holding the PIN. When empty the
	// keystore password is used as PIN.
	PinEnv string `yaml:"pin_env"`

	KeyLabel string `yaml:"key_label"`
	KeyID    string `yaml:"key_id"`
}

// LoadTokenConfig loads a token configuration from a YAML file.
func LoadTokenConfig(path string) (*TokenFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token config file: %w", err)
	}
	return ParseTokenConfig(data)
}

// ParseTokenConfig parses and validates a YAML token configuration.
func ParseTokenConfig(data []byte) (*TokenFileConfig, error) {
	var cfg TokenFileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse token config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the token configuration is usable.
func (c *TokenFileConfig) Validate() error {
	if c.Type != "pkcs11" {
		return fmt.Errorf("unsupported token type: %s (only 'pkcs11' is supported)", c.Type)
	}
	if c.PKCS11.Lib == "" {
		return fmt.Errorf("pkcs11.lib is required")
	}
	return nil
}

// GetPIN returns the PIN from PinEnv, falling back to password.
func (c *TokenFileConfig) GetPIN(password string) (string, error) {
	if c.PKCS11.PinEnv == "" {
		return password, nil
	}
	pin := os.Getenv(c.PKCS11.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PKCS11.PinEnv)
	}
	return pin, nil
}

// ToTokenConfig converts the file configuration for NewTokenSigner.
func (c *TokenFileConfig) ToTokenConfig(password string) (TokenConfig, error) {
	pin, err := c.GetPIN(password)
	if err != nil {
		return TokenConfig{}, err
	}
	return TokenConfig{
		ModulePath:  c.PKCS11.Lib,
		TokenLabel:  c.PKCS11.Token,
		TokenSerial: c.PKCS11.TokenSerial,
		SlotID:      c.PKCS11.Slot,
		PIN:         pin,
		KeyLabel:    c.PKCS11.KeyLabel,
		KeyID:       c.PKCS11.KeyID,
	}, nil
}
