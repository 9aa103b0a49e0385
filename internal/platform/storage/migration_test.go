package storage

import "gorm.io/gorm"

type noopMigration struct {
	version string
}

func (n *noopMigration) Version() string     { return n.version }
func (n *noopMigration) Description() string { return "noop " + n.version }
func (n *noopMigration) Up(*gorm.DB) error   { return nil }
func (n *noopMigration) Down(*gorm.DB) error { return nil }
