package config

import (
	"errors"
	"time"
)

// DomainConfig holds the limits and timing rules of the diagram domain
type DomainConfig struct {
	// Graph constraints
	MaxNodesPerGraph    int
	MaxEdgesPerGraph    int
	DefaultDocumentName string

	// Node constraints
	MaxNameLength     int
	MaxMembersPerNode int
	MaxTagsPerNode    int
	DefaultNodeName   string
	DefaultEdgeLabel  string

	// Edge constraints
	AllowSelfLoops bool

	// Timing
	RepositionQuiescence time.Duration
	SaveDelay            time.Duration
	SaveTimeout          time.Duration
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxNodesPerGraph:    10000,
		MaxEdgesPerGraph:    50000,
		DefaultDocumentName: "Untitled diagram",

		MaxNameLength:     200,
		MaxMembersPerNode: 500,
		MaxTagsPerNode:    20,
		DefaultNodeName:   "NewClass",
		DefaultEdgeLabel:  "association",

		AllowSelfLoops: true,

		RepositionQuiescence: 1500 * time.Millisecond,
		SaveDelay:            100 * time.Millisecond,
		SaveTimeout:          30 * time.Second,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxNodesPerGraph = 5000
	config.MaxEdgesPerGraph = 25000
	config.MaxMembersPerNode = 200

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxNodesPerGraph = 100000
	config.MaxEdgesPerGraph = 500000
	config.SaveTimeout = 5 * time.Second

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxNodesPerGraph <= 0 || c.MaxEdgesPerGraph <= 0 {
		return errors.New("graph limits must be positive")
	}
	if c.MaxNameLength <= 0 {
		return errors.New("max name length must be positive")
	}
	if c.RepositionQuiescence <= 0 {
		return errors.New("reposition quiescence must be positive")
	}
	if c.SaveDelay < 0 {
		return errors.New("save delay cannot be negative")
	}
	return nil
}
