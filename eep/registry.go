package eep

import (
	"fmt"
	"sort"
)

// maxFieldSize is the widest field a codec can extract
const maxFieldSize = 32

// Any matches every FUNC or TYPE in Registry.Find
const Any = -1

// Registry holds validated profiles by id. It is immutable after Load and safe for concurrent use.
type Registry struct {
	profiles map[ID]*Profile
	sorted   []*Profile
}

// Load validates defs and builds a Registry. All invalid definitions are reported
// at once in a *LoadError, no Registry is returned in that case.
func Load(defs []Profile) (*Registry, error) {
	return load(defs, nil)
}

// load is Load with the name of the file each definition was read from, sources may be nil
func load(defs []Profile, sources []string) (*Registry, error) {
	r := &Registry{profiles: make(map[ID]*Profile, len(defs))}
	var errs []error

	for i := range defs {
		p := defs[i]
		p.Fields = append([]Field(nil), defs[i].Fields...)
		p.Entities = append([]Entity(nil), defs[i].Entities...)

		perrs := validateProfile(&p)
		if _, dup := r.profiles[p.ID]; dup {
			perrs = append(perrs, fmt.Errorf("duplicate profile id"))
		}
		if len(perrs) > 0 {
			pe := &ProfileError{Profile: p.ID.String(), Errs: perrs}
			if i < len(sources) {
				pe.Source = sources[i]
			}
			errs = append(errs, pe)
			continue
		}
		for j := range p.Fields {
			p.Fields[j].codec = codecs[p.Fields[j].Kind]
		}
		r.profiles[p.ID] = &p
	}
	if len(errs) > 0 {
		return nil, &LoadError{Errs: errs}
	}

	r.sorted = make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		r.sorted = append(r.sorted, p)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return less(r.sorted[i].ID, r.sorted[j].ID) })
	return r, nil
}

func less(a, b ID) bool {
	if a.RORG != b.RORG {
		return a.RORG < b.RORG
	}
	if a.Func != b.Func {
		return a.Func < b.Func
	}
	return a.Type < b.Type
}

func validateProfile(p *Profile) []error {
	var errs []error

	width, ok := p.ID.RORG.MaxBits()
	if !ok {
		errs = append(errs, fmt.Errorf("unknown RORG %02X", byte(p.ID.RORG)))
	}
	if len(p.Fields) == 0 {
		errs = append(errs, fmt.Errorf("no fields"))
	}

	seen := make(map[string]bool, len(p.Fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Shortcut == "" {
			errs = append(errs, fmt.Errorf("field %d: empty shortcut", i))
		} else if seen[f.Shortcut] {
			errs = append(errs, fmt.Errorf("field %q: duplicate shortcut", f.Shortcut))
		}
		seen[f.Shortcut] = true

		for _, err := range validateField(f, width, ok) {
			errs = append(errs, fmt.Errorf("field %q: %w", f.Shortcut, err))
		}
	}
	return errs
}

func validateField(f *Field, width int, knownWidth bool) []error {
	var errs []error

	if f.Size < 1 || f.Size > maxFieldSize {
		errs = append(errs, fmt.Errorf("size %d not in 1..%d", f.Size, maxFieldSize))
	}
	if f.Offset < 0 {
		errs = append(errs, fmt.Errorf("negative offset %d", f.Offset))
	}
	if knownWidth && f.Offset+f.Size > width {
		errs = append(errs, fmt.Errorf("bits %d..%d exceed the %d bit payload", f.Offset, f.Offset+f.Size, width))
	}

	if f.Size >= 1 && f.Size <= maxFieldSize {
		limit := int64(maxRaw(f.Size))
		for _, r := range []int64{f.RawMin, f.RawMax} {
			if r < 0 || r > limit {
				errs = append(errs, fmt.Errorf("raw range [%d, %d] not representable in %d bits", f.RawMin, f.RawMax, f.Size))
				break
			}
		}
	}

	switch f.Kind {
	case KindValue:
	case KindBool:
		if f.Size != 1 {
			errs = append(errs, fmt.Errorf("bool field of %d bits", f.Size))
		}
	case KindEnum:
		if len(f.Enum) == 0 {
			errs = append(errs, fmt.Errorf("enum field without values"))
		}
		for raw := range f.Enum {
			if f.Size >= 1 && f.Size <= maxFieldSize && raw > maxRaw(f.Size) {
				errs = append(errs, fmt.Errorf("enum value %d not representable in %d bits", raw, f.Size))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %v", f.Kind))
	}

	// Inversion is only defined for booleans
	if f.Invert && f.Kind != KindBool {
		errs = append(errs, fmt.Errorf("invert on %v field", f.Kind))
	}
	return errs
}

// Resolve returns the profile with the given id
func (r *Registry) Resolve(id ID) (*Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrProfileNotFound, id)
	}
	return p, nil
}

// Find returns all profiles of the given family, optionally narrowed by fn and typ. Use Any to match all.
func (r *Registry) Find(rorg RORG, fn, typ int) []*Profile {
	var res []*Profile
	for _, p := range r.sorted {
		if p.ID.RORG != rorg {
			continue
		}
		if fn != Any && int(p.ID.Func) != fn {
			continue
		}
		if typ != Any && int(p.ID.Type) != typ {
			continue
		}
		res = append(res, p)
	}
	return res
}

// Profiles returns all profiles ordered by id
func (r *Registry) Profiles() []*Profile {
	return append([]*Profile(nil), r.sorted...)
}

// Len returns the number of profiles
func (r *Registry) Len() int {
	return len(r.profiles)
}
