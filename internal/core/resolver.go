package core

// ParentPolicy decides what happens when a child names a parent that has not been seen.
type ParentPolicy int

const (
	// ParentsStrict rejects the child with a MissingParentError.
	ParentsStrict ParentPolicy = iota
	// ParentsImplicit creates the parent on demand, top-down.
	ParentsImplicit
)

// EntityResolver maps (level, name, parent) to stable entity ids.
// It only appends; existing entities are never renamed or removed.
// Not safe for concurrent use: one run folds every row through one resolver.
type EntityResolver struct {
	nationalName string
	policy       ParentPolicy

	arena      []GeographicEntity // arena[id-1]
	byKey      map[EntityKey]int64
	nationalID int64
}

// NewEntityResolver creates an empty resolver. The National root is created
// lazily with nationalName on first reference.
func NewEntityResolver(nationalName string, policy ParentPolicy) *EntityResolver {
	return &EntityResolver{
		nationalName: collapseSpace(nationalName),
		policy:       policy,
		byKey:        make(map[EntityKey]int64),
	}
}

// National returns the id of the National root, creating it on first call.
func (r *EntityResolver) National() int64 {
	if r.nationalID == 0 {
		key := NewEntityKey(LevelNational, r.nationalName, 0)
		r.nationalID = r.create(key, LevelNational, r.nationalName, 0)
	}
	return r.nationalID
}

type link struct {
	level Level
	name  string
}

// Resolve returns the id for the entity named name at level. parentName names the
// enclosing entity when that is not the National root (a municipality's department).
//
// Ancestors are resolved root-first from an explicit chain before the child is
// created, so a child is never materialized without its parent.
func (r *EntityResolver) Resolve(level Level, name, parentName string) (int64, error) {
	if level == LevelNational {
		return r.National(), nil
	}
	if NormalizeName(name) == "" {
		return 0, &MalformedRowError{Field: "name", Value: name}
	}

	// chain[0] is the requested entity, chain[len-1] the child of National.
	chain := []link{{level: level, name: name}}
	hint := parentName
	for p, ok := level.Parent(); ok && p != LevelNational; p, ok = p.Parent() {
		chain = append(chain, link{level: p, name: hint})
		hint = ""
	}

	parentID := r.National()
	for i := len(chain) - 1; i >= 0; i-- {
		l := chain[i]
		leaf := i == 0

		if !leaf && NormalizeName(l.name) == "" {
			return 0, r.missing(chain[i-1], l)
		}

		key := NewEntityKey(l.level, l.name, parentID)
		if id, ok := r.byKey[key]; ok {
			parentID = id
			continue
		}
		if !leaf && r.policy == ParentsStrict {
			return 0, r.missing(chain[i-1], l)
		}
		parentID = r.create(key, l.level, l.name, parentID)
	}
	return parentID, nil
}

func (r *EntityResolver) missing(child, parent link) error {
	return &MissingParentError{
		Level:       child.level,
		Name:        collapseSpace(child.name),
		ParentLevel: parent.level,
		ParentName:  collapseSpace(parent.name),
	}
}

func (r *EntityResolver) create(key EntityKey, level Level, name string, parentID int64) int64 {
	id := int64(len(r.arena) + 1)
	e := GeographicEntity{ID: id, Level: level, Name: collapseSpace(name)}
	if parentID != 0 {
		p := parentID
		e.ParentID = &p
	}
	r.arena = append(r.arena, e)
	r.byKey[key] = id
	return id
}

// SetCode records the external code of id unless one is already set.
// The first code seen for an entity wins.
func (r *EntityResolver) SetCode(id int64, code string) {
	code = collapseSpace(code)
	if code == "" || id <= 0 || id > int64(len(r.arena)) {
		return
	}
	if e := &r.arena[id-1]; e.ExternalCode == "" {
		e.ExternalCode = code
	}
}

// Lookup returns the id for an existing entity without creating anything.
func (r *EntityResolver) Lookup(level Level, name string, parentID int64) (int64, bool) {
	id, ok := r.byKey[NewEntityKey(level, name, parentID)]
	return id, ok
}

// Get returns the entity with the given id.
func (r *EntityResolver) Get(id int64) (GeographicEntity, bool) {
	if id <= 0 || id > int64(len(r.arena)) {
		return GeographicEntity{}, false
	}
	return r.arena[id-1], true
}

// Len returns the number of entities created so far.
func (r *EntityResolver) Len() int { return len(r.arena) }

// Entities returns a copy of the entity table ordered by id.
func (r *EntityResolver) Entities() []GeographicEntity {
	out := make([]GeographicEntity, len(r.arena))
	copy(out, r.arena)
	return out
}
