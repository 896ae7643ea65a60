package frontend

import (
	"crypto/tls"
	"fmt"
)

// TLSMode mirrors the PostgreSQL sslmode vocabulary for the wire-protocol
// listeners that support TLS.
type TLSMode string

const (
	// TLSModeDisable serves plaintext only.
	TLSModeDisable TLSMode = "disable"
	// TLSModePrefer upgrades to TLS when the client asks for it.
	TLSModePrefer TLSMode = "prefer"
	// TLSModeRequire rejects clients that do not negotiate TLS.
	TLSModeRequire TLSMode = "require"
)

// TLSOption is the TLS posture of a single wire-protocol listener.
type TLSOption struct {
	Mode     TLSMode `mapstructure:"mode" validate:"omitempty,oneof=disable prefer require" yaml:"mode"`
	CertPath string  `mapstructure:"cert_path" yaml:"cert_path,omitempty"`
	KeyPath  string  `mapstructure:"key_path" yaml:"key_path,omitempty"`
}

// DefaultTLSOption is plaintext.
func DefaultTLSOption() TLSOption {
	return TLSOption{Mode: TLSModeDisable}
}

// NewTLSOption builds a TLSOption from command-line material. An empty mode
// means the flags were absent and the default posture applies.
func NewTLSOption(mode, certPath, keyPath string) TLSOption {
	opt := DefaultTLSOption()
	if mode != "" {
		opt.Mode = TLSMode(mode)
	}
	opt.CertPath = certPath
	opt.KeyPath = keyPath
	return opt
}

// Enabled reports whether the listener should be able to serve TLS.
func (t TLSOption) Enabled() bool {
	return t.Mode == TLSModePrefer || t.Mode == TLSModeRequire
}

// ServerConfig loads the certificate pair. Returns nil when TLS is disabled.
func (t TLSOption) ServerConfig() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair (cert %q, key %q): %w", t.CertPath, t.KeyPath, err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
