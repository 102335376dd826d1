package org

import (
	"github.com/iota-uz/salesorg/modules/org/migration"
	"github.com/iota-uz/salesorg/modules/org/services"
)

// Module wires the org services over one store and one unit locker.
type Module struct {
	Directory  *services.DirectoryService
	Members    *services.MembershipService
	Structures *services.CommissionStructureService
	Calculator *services.CommissionCalculator
	Analyzer   *services.HierarchyAnalyzer

	store services.Store
}

func NewModule(store services.Store, locker services.UnitLocker, opts services.Options) *Module {
	return &Module{
		Directory:  services.NewDirectoryService(store, opts),
		Members:    services.NewMembershipService(store, locker, opts),
		Structures: services.NewCommissionStructureService(store, locker, opts),
		Calculator: services.NewCommissionCalculator(store, locker, opts),
		Analyzer:   services.NewHierarchyAnalyzer(store, locker, opts),
		store:      store,
	}
}

// Migrator reads the given legacy source into this module's store.
func (m *Module) Migrator(source migration.LegacySource, opts ...migration.MigratorOption) *migration.Migrator {
	return migration.NewMigrator(source, m.store, opts...)
}

func (m *Module) Name() string {
	return "org"
}
