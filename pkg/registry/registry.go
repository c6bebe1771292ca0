// Package registry resolves the ordered node list from a data-center keyed inventory.
package registry

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/cassops/pkg/config/configstore"
	dm "github.com/andrej220/cassops/pkg/shared-models"
)

var (
	ErrEmptyInventory   = errors.New("inventory lists no nodes")
	ErrInvalidInventory = errors.New("invalid inventory")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DataCenter is one inventory entry: a name and its node addresses in stored order.
type DataCenter struct {
	Name  string   `validate:"required"`
	Nodes []string `validate:"dive,required,hostname_port|hostname_rfc1123|ip"`
}

// Inventory maps data-center names to node addresses. Unlike a Go map it keeps
// the order the document stored them in.
type Inventory struct {
	DataCenters []DataCenter `validate:"dive"`
}

// UnmarshalYAML decodes a mapping of data center to address list, e.g.
//
//	dc1: [10.0.0.1, 10.0.0.2]
//	dc2: [10.1.0.1]
//
// JSON documents of the same shape decode through this path as well.
func (inv *Inventory) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping of data center to node list", ErrInvalidInventory, value.Line)
	}
	dcs := make([]DataCenter, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var addrs []string
		if err := val.Decode(&addrs); err != nil {
			return fmt.Errorf("%w: data center %q: %v", ErrInvalidInventory, key.Value, err)
		}
		dcs = append(dcs, DataCenter{Name: key.Value, Nodes: addrs})
	}
	inv.DataCenters = dcs
	return nil
}

// UnmarshalBSON decodes an inventory document stored in MongoDB. The _id field
// is the document key and is not a data center.
func (inv *Inventory) UnmarshalBSON(data []byte) error {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInventory, err)
	}
	dcs := make([]DataCenter, 0, len(doc))
	for _, elem := range doc {
		if elem.Key == "_id" {
			continue
		}
		arr, ok := elem.Value.(bson.A)
		if !ok {
			return fmt.Errorf("%w: data center %q: expected an array of addresses", ErrInvalidInventory, elem.Key)
		}
		addrs := make([]string, 0, len(arr))
		for _, v := range arr {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: data center %q: address %v is not a string", ErrInvalidInventory, elem.Key, v)
			}
			addrs = append(addrs, s)
		}
		dcs = append(dcs, DataCenter{Name: elem.Key, Nodes: addrs})
	}
	inv.DataCenters = dcs
	return nil
}

// Validate checks names and addresses and rejects empty or duplicated entries.
func (inv Inventory) Validate() error {
	if err := validate.Struct(inv); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInventory, err)
	}
	seen := make(map[string]string)
	total := 0
	for _, dc := range inv.DataCenters {
		for _, addr := range dc.Nodes {
			if other, dup := seen[addr]; dup {
				return fmt.Errorf("%w: node %s listed in %s and %s", ErrInvalidInventory, addr, other, dc.Name)
			}
			seen[addr] = dc.Name
			total++
		}
	}
	if total == 0 {
		return ErrEmptyInventory
	}
	return nil
}

// Registry is the immutable node list for one run.
type Registry struct {
	nodes []dm.Node
}

// New validates inv and flattens it: data centers in stored order, nodes
// within a data center in stored order.
func New(inv Inventory) (*Registry, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	var nodes []dm.Node
	for _, dc := range inv.DataCenters {
		for _, addr := range dc.Nodes {
			nodes = append(nodes, dm.Node{Address: addr, DataCenter: dc.Name})
		}
	}
	return &Registry{nodes: nodes}, nil
}

// Load reads the inventory from store and builds a Registry.
func Load(store configstore.ConfigStore) (*Registry, error) {
	var inv Inventory
	if err := store.Load(&inv); err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return New(inv)
}

// Nodes returns a copy of the ordered node list.
func (r *Registry) Nodes() []dm.Node {
	out := make([]dm.Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len returns the number of nodes.
func (r *Registry) Len() int { return len(r.nodes) }
