// Package storage provides common storage and database utilities for EVE services.
// This package includes standard database connection management, configuration patterns,
// and common operations used across the EVE ecosystem.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver
)

// DatabaseConfig contains common database configuration options
type DatabaseConfig struct {
	URL             string        // Database server URL
	Database        string        // Database name
	Username        string        // Authentication username
	Password        string        // Authentication password
	Timeout         time.Duration // Operation timeout
	CreateIfMissing bool          // Auto-create database if it doesn't exist
}

// DefaultDatabaseConfig returns a database config with sensible defaults
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             "http://localhost:5984",
		Database:        "",
		Username:        "",
		Password:        "",
		Timeout:         30 * time.Second,
		CreateIfMissing: true,
	}
}

// CouchDBClient wraps a Kivik client with common utilities
type CouchDBClient struct {
	client   *kivik.Client
	database *kivik.DB
	dbName   string
	config   DatabaseConfig
}

// NewCouchDBClient creates a new CouchDB client with the provided configuration
func NewCouchDBClient(config DatabaseConfig) (*CouchDBClient, error) {
	// Build connection URL with authentication if provided
	connectionURL, err := buildConnectionURL(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection URL: %w", err)
	}

	// Create Kivik client
	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB client: %w", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	// Check if database exists
	exists, err := client.DBExists(ctx, config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	// Create database if needed
	if !exists {
		if config.CreateIfMissing {
			if err := client.CreateDB(ctx, config.Database); err != nil {
				return nil, fmt.Errorf("failed to create database %s: %w", config.Database, err)
			}
		} else {
			return nil, fmt.Errorf("database %s does not exist", config.Database)
		}
	}

	// Get database handle
	db := client.DB(config.Database)

	return &CouchDBClient{
		client:   client,
		database: db,
		dbName:   config.Database,
		config:   config,
	}, nil
}

// buildConnectionURL constructs the connection URL with authentication
func buildConnectionURL(config DatabaseConfig) (string, error) {
	if config.URL == "" {
		return "", fmt.Errorf("database URL cannot be empty")
	}

	// If no credentials, return URL as-is
	if config.Username == "" && config.Password == "" {
		return config.URL, nil
	}

	// Parse URL to inject credentials
	parsedURL, err := url.Parse(config.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Set credentials
	if config.Username != "" {
		parsedURL.User = url.UserPassword(config.Username, config.Password)
	}

	return parsedURL.String(), nil
}

// AllDocs retrieves all documents from the database
func (c *CouchDBClient) AllDocs(ctx context.Context) ([]interface{}, error) {
	rows := c.database.AllDocs(ctx, kivik.Param("include_docs", true))
	defer rows.Close()

	var docs []interface{}
	for rows.Next() {
		var doc interface{}
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Close closes the database connection
func (c *CouchDBClient) Close() error {
	return c.client.Close()
}
