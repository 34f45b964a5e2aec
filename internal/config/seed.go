package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Seed is the initial state written to an empty store at process start.
type Seed struct {
	Barbers  []SeedBarber  `toml:"barbers" yaml:"barbers"`
	Clients  []SeedClient  `toml:"clients" yaml:"clients"`
	Services []SeedService `toml:"services" yaml:"services"`
}

type SeedBarber struct {
	ID        string `toml:"id" yaml:"id"`
	Name      string `toml:"name" yaml:"name"`
	Phone     string `toml:"phone" yaml:"phone"`
	WorkStart string `toml:"work_start" yaml:"work_start"`
	WorkEnd   string `toml:"work_end" yaml:"work_end"`
	DaysOff   []int  `toml:"days_off" yaml:"days_off"`
	Protected bool   `toml:"protected" yaml:"protected"`
}

type SeedClient struct {
	ID        string `toml:"id" yaml:"id"`
	Name      string `toml:"name" yaml:"name"`
	Phone     string `toml:"phone" yaml:"phone"`
	Email     string `toml:"email" yaml:"email"`
	Protected bool   `toml:"protected" yaml:"protected"`
}

type SeedService struct {
	ID        string  `toml:"id" yaml:"id"`
	Name      string  `toml:"name" yaml:"name"`
	Price     float64 `toml:"price" yaml:"price"`
	Duration  int     `toml:"duration" yaml:"duration"`
	Protected bool    `toml:"protected" yaml:"protected"`
}

// LoadSeed reads a seed file, picking the decoder from the extension.
// An empty path yields DefaultSeed.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &seed); err != nil {
			return Seed{}, fmt.Errorf("decode toml seed: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return Seed{}, fmt.Errorf("decode yaml seed: %w", err)
		}
	default:
		return Seed{}, fmt.Errorf("unsupported seed file extension %q", filepath.Ext(path))
	}

	return seed, nil
}

// DefaultSeed is the baseline shop: one barber, one client and the six
// standard services, all protected from removal.
func DefaultSeed() Seed {
	return Seed{
		Barbers: []SeedBarber{
			{ID: "1", Name: "João Silva", Phone: "(11) 99999-9999", WorkStart: "08:00", WorkEnd: "18:00", DaysOff: []int{0}, Protected: true},
		},
		Clients: []SeedClient{
			{ID: "1", Name: "Maria Santos", Phone: "(11) 98888-8888", Email: "maria@exemplo.com", Protected: true},
		},
		Services: []SeedService{
			{ID: "1", Name: "Corte de Cabelo", Price: 45, Duration: 30, Protected: true},
			{ID: "2", Name: "Barba", Price: 35, Duration: 30, Protected: true},
			{ID: "3", Name: "Cabelo e Barba", Price: 70, Duration: 60, Protected: true},
			{ID: "4", Name: "Pintura de Cabelo", Price: 90, Duration: 90, Protected: true},
			{ID: "5", Name: "Penteado", Price: 60, Duration: 45, Protected: true},
			{ID: "6", Name: "Maquiagem", Price: 80, Duration: 60, Protected: true},
		},
	}
}
