// Package config loads, persists, and answers trust queries against the
// daemon's YAML configuration file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// DefaultPort is the TCP port the Consumer listens on when unconfigured.
const DefaultPort = 3333

// General holds the machine's own identity and is broadcast in discovery
// and handshake.
type General struct {
	MachineName string `yaml:"machine_name"`
	MachineID   string `yaml:"machine_id"`
}

// Network holds the Consumer's listen configuration.
type Network struct {
	Port     int    `yaml:"port"`
	MDNSName string `yaml:"mdns_name"`
}

// Devices holds the per-kind accept gate on the Consumer side.
type Devices struct {
	TabletEnabled   bool `yaml:"tablet_enabled"`
	JoystickEnabled bool `yaml:"joystick_enabled"`
}

// TrustedHost is a Host this machine, acting as Consumer, trusts.
type TrustedHost struct {
	HostID     string `yaml:"host_id"`
	AutoAccept bool   `yaml:"auto_accept"`
}

// TrustedConsumer is a Consumer this machine, acting as Host, trusts.
type TrustedConsumer struct {
	ConsumerID     string   `yaml:"consumer_id"`
	AutoAccept     bool     `yaml:"auto_accept"`
	AllowedDevices []string `yaml:"allowed_devices"`
}

// Consumer groups the Consumer-role settings.
type Consumer struct {
	Network      Network                `yaml:"network"`
	Devices      Devices                `yaml:"devices"`
	TrustedHosts map[string]TrustedHost `yaml:"trusted_hosts"`
}

// Host groups the Host-role settings.
type Host struct {
	RelativeMode     bool                       `yaml:"relative_mode"`
	DisableLocal     bool                       `yaml:"disable_local"`
	TrustedConsumers map[string]TrustedConsumer `yaml:"trusted_consumers"`
}

// File is the on-disk YAML schema.
type File struct {
	General  General  `yaml:"general"`
	Consumer Consumer `yaml:"consumer"`
	Host     Host     `yaml:"host"`
}

// Store is the in-memory view of the config file, read once at start and
// written atomically on mutation. A failed write does not undo the
// mutation: the error is returned to the caller and the Store keeps
// serving the updated in-memory snapshot.
//
// raw holds the full parsed document, including any top-level keys this
// version of the daemon doesn't understand; save() overlays only the
// known sections back into raw before marshaling, so unknown keys survive
// a rewrite.
type Store struct {
	mu   sync.RWMutex
	path string
	file File
	raw  map[string]interface{}
}

// Load reads the config at the standard location
// (~/.config/transwacom/config.yml), creating it with defaults (including
// a freshly generated machine_id) if it doesn't exist.
func Load() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolving user config dir: %w", err)
	}
	return LoadFrom(filepath.Join(dir, "transwacom", "config.yml"))
}

// LoadFrom reads the config at path, applying the same defaulting and
// machine_id generation as Load.
func LoadFrom(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f File
		var raw map[string]interface{}
		if uerr := yaml.Unmarshal(data, &f); uerr != nil {
			logging.Warnf("config: %s is malformed, using defaults: %v", path, uerr)
			f = defaultFile()
		} else if rerr := yaml.Unmarshal(data, &raw); rerr == nil {
			s.raw = raw
		}
		s.file = f
	case os.IsNotExist(err):
		s.file = defaultFile()
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if s.raw == nil {
		s.raw = make(map[string]interface{})
	}

	changed := false
	if s.file.General.MachineID == "" {
		id, gerr := generateMachineID()
		if gerr != nil {
			return nil, fmt.Errorf("generating machine_id: %w", gerr)
		}
		s.file.General.MachineID = id
		changed = true
	}
	if s.file.Consumer.Network.Port == 0 {
		s.file.Consumer.Network.Port = DefaultPort
		changed = true
	}

	if changed {
		if err := s.save(); err != nil {
			logging.Warnf("config: failed to persist defaults to %s: %v", path, err)
		}
	}

	if err := validateFile(s.file); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return s, nil
}

// validateFile accumulates every structural problem with f via a
// ValidationBuilder before failing, so a hand-edited config reports
// everything wrong with it in one pass instead of one error per reload.
func validateFile(f File) error {
	var b xerrors.ValidationBuilder

	if f.Consumer.Network.Port < 1 || f.Consumer.Network.Port > 65535 {
		b.Addf("consumer.network.port %d out of range 1-65535", f.Consumer.Network.Port)
	}

	for peer, tc := range f.Host.TrustedConsumers {
		for _, kind := range tc.AllowedDevices {
			if kind != string(model.KindTablet) && kind != string(model.KindJoystick) {
				b.Addf("host.trusted_consumers.%s.allowed_devices: unknown device kind %q", peer, kind)
			}
		}
	}

	return b.Build()
}

func defaultFile() File {
	return File{
		General: General{MachineName: defaultMachineName()},
		Consumer: Consumer{
			Network: Network{Port: DefaultPort},
			Devices: Devices{TabletEnabled: true, JoystickEnabled: true},
		},
	}
}

func defaultMachineName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "transwacom-host"
	}
	return name
}

// sectionsAsMap round-trips f's three known top-level sections through
// YAML into a generic map, so they can be overlaid onto a raw document
// without disturbing unknown sibling keys.
func sectionsAsMap(f File) (map[string]interface{}, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func generateMachineID() (string, error) {
	buf := make([]byte, 16) // 128 bits of entropy
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Identity returns this installation's MachineIdentity.
func (s *Store) Identity() model.MachineIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.MachineIdentity{
		MachineID:   s.file.General.MachineID,
		MachineName: s.file.General.MachineName,
	}
}

// Port returns the configured Consumer listen port.
func (s *Store) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file.Consumer.Network.Port == 0 {
		return DefaultPort
	}
	return s.file.Consumer.Network.Port
}

// MDNSName returns the configured service instance label, falling back to
// the machine name.
func (s *Store) MDNSName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file.Consumer.Network.MDNSName != "" {
		return s.file.Consumer.Network.MDNSName
	}
	return s.file.General.MachineName
}

// KindEnabled reports the Consumer-side per-kind accept gate.
func (s *Store) KindEnabled(kind model.DeviceKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case model.KindTablet:
		return s.file.Consumer.Devices.TabletEnabled
	case model.KindJoystick:
		return s.file.Consumer.Devices.JoystickEnabled
	default:
		return false
	}
}

// IsTrustedHost reports whether a Host peer has any policy entry at all.
func (s *Store) IsTrustedHost(peerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.file.Consumer.TrustedHosts[peerName]
	return ok
}

// ShouldAutoAcceptHost reports whether a Host peer is configured to skip
// the authorization prompt.
func (s *Store) ShouldAutoAcceptHost(peerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.file.Consumer.TrustedHosts[peerName]
	return ok && h.AutoAccept
}

// TrustHost adds or updates a trusted Host entry and persists it. If an
// identical entry already exists, it returns xerrors.ErrAlreadyTrusted
// without rewriting the file; callers that only want to ensure trust is
// established (rather than force a rewrite) can treat that as success.
func (s *Store) TrustHost(peerName, hostID string, autoAccept bool) error {
	s.mu.Lock()
	if existing, ok := s.file.Consumer.TrustedHosts[peerName]; ok && existing.HostID == hostID && existing.AutoAccept == autoAccept {
		s.mu.Unlock()
		return xerrors.ErrAlreadyTrusted
	}
	if s.file.Consumer.TrustedHosts == nil {
		s.file.Consumer.TrustedHosts = make(map[string]TrustedHost)
	}
	s.file.Consumer.TrustedHosts[peerName] = TrustedHost{HostID: hostID, AutoAccept: autoAccept}
	s.mu.Unlock()
	return s.Save()
}

// UntrustHost removes a trusted Host entry and persists it.
func (s *Store) UntrustHost(peerName string) error {
	s.mu.Lock()
	delete(s.file.Consumer.TrustedHosts, peerName)
	s.mu.Unlock()
	return s.Save()
}

// IsTrustedConsumer, ShouldAutoAcceptConsumer, AllowedForConsumer mirror
// the Consumer-role trusted-host queries for the Host role's
// TrustedConsumers; AllowedForConsumer checks a kind against the entry's
// AllowedDevices.
func (s *Store) IsTrustedConsumer(peerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.file.Host.TrustedConsumers[peerName]
	return ok
}

func (s *Store) ShouldAutoAcceptConsumer(peerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.file.Host.TrustedConsumers[peerName]
	return ok && c.AutoAccept
}

// AllowedForConsumer reports whether a trusted Consumer peer may receive
// the given device kind.
func (s *Store) AllowedForConsumer(peerName string, kind model.DeviceKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.file.Host.TrustedConsumers[peerName]
	if !ok {
		return false
	}
	if len(c.AllowedDevices) == 0 {
		return true // no explicit restriction means all kinds
	}
	for _, k := range c.AllowedDevices {
		if k == string(kind) {
			return true
		}
	}
	return false
}

// TrustConsumer adds or updates a trusted Consumer entry and persists it.
// Equivalent to TrustHost, an entry identical to the one already on file
// returns xerrors.ErrAlreadyTrusted rather than rewriting.
func (s *Store) TrustConsumer(peerName, consumerID string, autoAccept bool, allowedDevices []string) error {
	s.mu.Lock()
	if existing, ok := s.file.Host.TrustedConsumers[peerName]; ok && existing.ConsumerID == consumerID && existing.AutoAccept == autoAccept && sameDeviceList(existing.AllowedDevices, allowedDevices) {
		s.mu.Unlock()
		return xerrors.ErrAlreadyTrusted
	}
	if s.file.Host.TrustedConsumers == nil {
		s.file.Host.TrustedConsumers = make(map[string]TrustedConsumer)
	}
	s.file.Host.TrustedConsumers[peerName] = TrustedConsumer{
		ConsumerID:     consumerID,
		AutoAccept:     autoAccept,
		AllowedDevices: allowedDevices,
	}
	s.mu.Unlock()
	return s.Save()
}

func sameDeviceList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TrustedConsumer returns the full trust entry for a Consumer peer, so a
// caller can amend AllowedDevices incrementally without clobbering an
// existing AutoAccept/ConsumerID.
func (s *Store) TrustedConsumer(peerName string) (TrustedConsumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.file.Host.TrustedConsumers[peerName]
	return tc, ok
}

// UntrustConsumer removes a trusted Consumer entry and persists it.
func (s *Store) UntrustConsumer(peerName string) error {
	s.mu.Lock()
	delete(s.file.Host.TrustedConsumers, peerName)
	s.mu.Unlock()
	return s.Save()
}

// RelativeMode and DisableLocal report the Host-side mode-control toggles.
func (s *Store) RelativeMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Host.RelativeMode
}

func (s *Store) DisableLocal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Host.DisableLocal
}

// Save writes the current in-memory snapshot to its original path.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save performs the atomic temp+rename write, overlaying the known
// sections onto the raw document. Caller must hold s.mu exclusively
// (save mutates s.raw).
func (s *Store) save() error {
	overlay, err := sectionsAsMap(s.file)
	if err != nil {
		return fmt.Errorf("preparing config for write: %w", err)
	}
	if s.raw == nil {
		s.raw = make(map[string]interface{})
	}
	for k, v := range overlay {
		s.raw[k] = v
	}

	data, err := yaml.Marshal(s.raw)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp config file: %w", err)
	}
	return nil
}
