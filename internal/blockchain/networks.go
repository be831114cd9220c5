package blockchain

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Network families.
const (
	FamilyEVM    = "evm"
	FamilyHedera = "hedera"
)

//go:embed networks.yaml
var networksYAML []byte

// Network describes a chain the platform can read from.
type Network struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Family      string `yaml:"family" json:"family"`
	ChainID     int64  `yaml:"chain_id" json:"chain_id"`
	RPCURL      string `yaml:"rpc_url" json:"-"`
	MirrorURL   string `yaml:"mirror_url" json:"-"`
	Currency    string `yaml:"currency" json:"currency"`
	Decimals    int32  `yaml:"decimals" json:"decimals"`
	Explorer    string `yaml:"explorer" json:"explorer"`
	Testnet     bool   `yaml:"testnet" json:"testnet"`
}

// Registry is the set of supported networks.
type Registry struct {
	byName map[string]Network
	order  []string
}

// Overrides replaces registry URLs at start-up.
type Overrides struct {
	// RPC is keyed by network name.
	RPC map[string]string
	// Mirror is keyed by network name.
	Mirror map[string]string
}

// LoadRegistry parses the embedded network list and applies overrides.
func LoadRegistry(o Overrides) (*Registry, error) {
	return parseRegistry(networksYAML, o)
}

func parseRegistry(data []byte, o Overrides) (*Registry, error) {
	var doc struct {
		Networks []Network `yaml:"networks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse networks: %w", err)
	}
	r := &Registry{byName: make(map[string]Network, len(doc.Networks))}
	for _, n := range doc.Networks {
		if n.Family != FamilyEVM && n.Family != FamilyHedera {
			return nil, fmt.Errorf("network %s: unknown family %q", n.Name, n.Family)
		}
		if _, dup := r.byName[n.Name]; dup {
			return nil, fmt.Errorf("network %s declared twice", n.Name)
		}
		if url := o.RPC[n.Name]; url != "" {
			n.RPCURL = url
		}
		if url := o.Mirror[n.Name]; url != "" {
			n.MirrorURL = strings.TrimRight(url, "/")
		}
		r.byName[n.Name] = n
		r.order = append(r.order, n.Name)
	}
	return r, nil
}

// Get looks up a network by name.
func (r *Registry) Get(name string) (Network, error) {
	n, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

// List returns networks in declaration order, optionally filtered by family.
func (r *Registry) List(family string) []Network {
	out := make([]Network, 0, len(r.order))
	for _, name := range r.order {
		n := r.byName[name]
		if family == "" || n.Family == family {
			out = append(out, n)
		}
	}
	return out
}

// Providers maps each wallet provider to the network family it can sign for.
var Providers = map[string]string{
	"metamask":      FamilyEVM,
	"walletconnect": FamilyEVM,
	"coinbase":      FamilyEVM,
	"hashpack":      FamilyHedera,
}

// ProviderNames lists supported providers alphabetically.
func ProviderNames() []string {
	names := make([]string, 0, len(Providers))
	for p := range Providers {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}
