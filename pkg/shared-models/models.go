package datamodels

import (
	"time"
)

// Node is one database host as listed in the inventory.
type Node struct {
	Address    string `json:"address" validate:"required,hostname_port|hostname_rfc1123|ip"`
	DataCenter string `json:"dataCenter" validate:"required"`
}

func (n Node) String() string {
	return n.Address
}

// NodeResult is the outcome of one command on one node.
type NodeResult struct {
	Node        Node          `json:"node"`
	Command     string        `json:"command"`
	Success     bool          `json:"success"`
	Value       string        `json:"value,omitempty"`
	Error       string        `json:"error,omitempty"`
	Unreachable bool          `json:"unreachable,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Message is the text shown to the operator: the value on success, the error otherwise.
func (r NodeResult) Message() string {
	if r.Success {
		return r.Value
	}
	return r.Error
}
