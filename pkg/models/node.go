package models

import (
	"fmt"
	"strings"
)

// WorkflowNode represents a node instance in a workflow graph.
type WorkflowNode struct {
	ID        string         `json:"id"     validate:"required"`
	Type      string         `json:"type"   validate:"required"`
	Config    map[string]any `json:"config"`
	Name      string         `json:"name"   validate:"required,min=1"`
	Enabled   bool           `json:"enabled"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// Connection connects two ports. Port ids are "{node_id}:{port_name}".
type Connection struct {
	ID         string `json:"id"`
	SourcePort string `json:"source_port" validate:"required"`
	TargetPort string `json:"target_port" validate:"required"`
}

// SourceNode returns the node id half of the source port.
func (c *Connection) SourceNode() (string, error) {
	return nodeOfPort(c.SourcePort)
}

// TargetNode returns the node id half of the target port.
func (c *Connection) TargetNode() (string, error) {
	return nodeOfPort(c.TargetPort)
}

func nodeOfPort(port string) (string, error) {
	idx := strings.LastIndex(port, ":")
	if idx <= 0 {
		return "", fmt.Errorf("invalid port id %q, want {node_id}:{port_name}", port)
	}

	return port[:idx], nil
}
