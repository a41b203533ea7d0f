// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

// DirtyContext is the staging area of a sandbox. Creations land in the
// embedded Context as usual, but drops are only recorded: a dropped table
// stays in the map so that merged views built on top still find it, and the
// staged list is the record of what ApplyTo removes from the target.
type DirtyContext struct {
	*Context

	tablesDeleted    []QualifiedName
	functionsDeleted []string
}

// NewDirtyContext returns an empty DirtyContext which will be applied to a
// Context of the given scope.
func NewDirtyContext(scope Scope, opts ...ContextOption) *DirtyContext {
	return &DirtyContext{
		Context: NewContext(scope, opts...),
	}
}

// DropTable stages the removal of schema.name. Staging the same table twice
// is a no-op.
func (d *DirtyContext) DropTable(schema, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	qn := NewQualifiedName(schema, name)
	for _, staged := range d.tablesDeleted {
		if staged == qn {
			return nil
		}
	}
	d.tablesDeleted = append(d.tablesDeleted, qn)
	return nil
}

// DropFunction stages the removal of a function.
func (d *DirtyContext) DropFunction(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, staged := range d.functionsDeleted {
		if staged == name {
			return nil
		}
	}
	d.functionsDeleted = append(d.functionsDeleted, name)
	return nil
}

// StagedTableDrops returns the staged table drops in the order they were
// staged.
func (d *DirtyContext) StagedTableDrops() []QualifiedName {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]QualifiedName(nil), d.tablesDeleted...)
}

// StagedFunctionDrops returns the staged function drops in the order they
// were staged.
func (d *DirtyContext) StagedFunctionDrops() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.functionsDeleted...)
}

func (d *DirtyContext) IsTableDropStaged(schema, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	qn := NewQualifiedName(schema, name)
	for _, staged := range d.tablesDeleted {
		if staged == qn {
			return true
		}
	}
	return false
}

func (d *DirtyContext) IsFunctionDropStaged(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, staged := range d.functionsDeleted {
		if staged == name {
			return true
		}
	}
	return false
}

// CheckApply returns the error ApplyTo would return for target, without
// modifying anything.
func (d *DirtyContext) CheckApply(target *Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	target.mu.RLock()
	defer target.mu.RUnlock()
	return d.checkApply(target)
}

func (d *DirtyContext) checkApply(target *Context) error {
	if target.scope.IsReadonly() {
		return NewErrReadOnly("apply staged changes")
	}
	for schema, tables := range d.tables {
		for name := range tables {
			if _, ok := target.tables[schema][name]; ok {
				return NewErrTableExists(NewQualifiedName(schema, name))
			}
		}
	}
	for _, qn := range d.tablesDeleted {
		_, inTarget := target.tables[qn.Schema][qn.Name]
		_, staged := d.tables[qn.Schema][qn.Name]
		if !inTarget && !staged {
			return NewErrTableNotExists(qn)
		}
	}
	for _, name := range d.functionsDeleted {
		if _, ok := target.functions[name]; !ok {
			return NewErrFunctionNotExists(name)
		}
	}
	return nil
}

// ApplyTo makes the staged changes in target. Schemas and tables are created
// first, with a fresh lock for each new table, then staged table drops run,
// then staged function drops, so a table created and dropped in the same
// sandbox nets out to nothing. Functions created in a DirtyContext are not
// applied.
//
// Either every change is made or, if CheckApply fails, none is.
func (d *DirtyContext) ApplyTo(target *Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	target.mu.Lock()
	defer target.mu.Unlock()

	if err := d.checkApply(target); err != nil {
		return err
	}

	for schema, tables := range d.tables {
		target.createSchema(schema)
		for name, td := range tables {
			target.putTable(td, d.data[schema][name])
		}
	}
	for _, qn := range d.tablesDeleted {
		if err := target.dropTable(qn.Schema, qn.Name); err != nil {
			return NewErrFatal("applying staged drop: " + err.Error())
		}
	}
	for _, name := range d.functionsDeleted {
		if err := target.dropFunction(name); err != nil {
			return NewErrFatal("applying staged drop: " + err.Error())
		}
	}
	return nil
}
