package eep

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/flynn/json5"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Definition files describe one profile per file, or a list of profiles:
//
//	eep: A5-02-05
//	title: Temperature Sensor Range 0°C to +40°C
//	fields:
//	  - shortcut: TMP
//	    offset: 16
//	    size: 8
//	    raw: {min: 255, max: 0}
//	    scale: {min: 0, max: 40}
//	    unit: °C
//
// Files ending in .json or .json5 are read as JSON5, .yaml and .yml as YAML.

type rawRange struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

type scaleRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

type enumDefinition struct {
	Raw   uint64 `json:"raw" yaml:"raw"`
	Label string `json:"label" yaml:"label"`
}

type fieldDefinition struct {
	Shortcut    string           `json:"shortcut" yaml:"shortcut"`
	Description string           `json:"description" yaml:"description"`
	Offset      int              `json:"offset" yaml:"offset"`
	Size        int              `json:"size" yaml:"size"`
	Raw         *rawRange        `json:"raw" yaml:"raw"`
	Scale       *scaleRange      `json:"scale" yaml:"scale"`
	Unit        string           `json:"unit" yaml:"unit"`
	Invert      bool             `json:"invert" yaml:"invert"`
	Kind        string           `json:"kind" yaml:"kind"`
	Values      []enumDefinition `json:"values" yaml:"values"`
}

type entityDefinition struct {
	Shortcut    string `json:"shortcut" yaml:"shortcut"`
	Name        string `json:"name" yaml:"name"`
	Unit        string `json:"unit" yaml:"unit"`
	DeviceClass string `json:"device_class" yaml:"device_class"`
	Component   string `json:"component" yaml:"component"`
	Direction   string `json:"direction" yaml:"direction"`
}

type profileDefinition struct {
	EEP      string             `json:"eep" yaml:"eep"`
	Title    string             `json:"title" yaml:"title"`
	Fields   []fieldDefinition  `json:"fields" yaml:"fields"`
	Entities []entityDefinition `json:"entities" yaml:"entities"`
}

// profile converts a definition, filling in the defaults of omitted ranges
func (d *profileDefinition) profile() (Profile, []error) {
	var errs []error
	p := Profile{Title: d.Title}

	id, err := ParseID(d.EEP)
	if err != nil {
		errs = append(errs, err)
	}
	p.ID = id

	for _, fd := range d.Fields {
		f := Field{
			Shortcut:    fd.Shortcut,
			Description: fd.Description,
			Offset:      fd.Offset,
			Size:        fd.Size,
			Unit:        fd.Unit,
			Invert:      fd.Invert,
		}
		f.Kind, err = ParseFieldKind(fd.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", fd.Shortcut, err))
		}
		if fd.Kind == "" && len(fd.Values) > 0 {
			f.Kind = KindEnum
		}
		if len(fd.Values) > 0 {
			f.Enum = make(map[uint64]string, len(fd.Values))
			for _, v := range fd.Values {
				f.Enum[v.Raw] = v.Label
			}
		}

		switch {
		case fd.Raw != nil:
			f.RawMin, f.RawMax = fd.Raw.Min, fd.Raw.Max
		case fd.Size >= 1 && fd.Size <= maxFieldSize:
			f.RawMin, f.RawMax = 0, int64(maxRaw(fd.Size))
		}
		if fd.Scale != nil {
			f.ScaleMin, f.ScaleMax = fd.Scale.Min, fd.Scale.Max
		} else {
			f.ScaleMin, f.ScaleMax = float64(f.RawMin), float64(f.RawMax)
		}
		p.Fields = append(p.Fields, f)
	}

	for _, ed := range d.Entities {
		e := Entity{
			Shortcut:    ed.Shortcut,
			Name:        ed.Name,
			Unit:        ed.Unit,
			DeviceClass: ed.DeviceClass,
			Component:   ed.Component,
		}
		switch strings.ToLower(ed.Direction) {
		case "", "sensor":
			e.Direction = DirectionSensor
		case "command":
			e.Direction = DirectionCommand
		default:
			errs = append(errs, fmt.Errorf("entity %q: unknown direction %q", ed.Shortcut, ed.Direction))
		}
		p.Entities = append(p.Entities, e)
	}
	return p, errs
}

func parseDefinitions(name string, b []byte) ([]profileDefinition, error) {
	var defs []profileDefinition

	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".json5":
		if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '[' {
			err := json5.Unmarshal(b, &defs)
			return defs, err
		}
		var d profileDefinition
		err := json5.Unmarshal(b, &d)
		return append(defs, d), err
	case ".yaml", ".yml":
		var doc yaml.Node
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			return nil, nil
		}
		if doc.Content[0].Kind == yaml.SequenceNode {
			err := doc.Content[0].Decode(&defs)
			return defs, err
		}
		var d profileDefinition
		err := doc.Content[0].Decode(&d)
		return append(defs, d), err
	}
	return nil, nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".json5", ".yaml", ".yml":
		return true
	}
	return false
}

// ReadDefinitions reads all definition files below the roots of fsyss, in lexical order per file system.
// A profile read later replaces an earlier one with the same id, so custom definitions go last.
// Files that can not be parsed are reported in a *LoadError after all files have been read.
func ReadDefinitions(fsyss ...fs.FS) ([]Profile, []string, error) {
	var (
		order   []ID
		byID    = make(map[ID]Profile)
		sources = make(map[ID]string)
		errs    []error
	)

	for _, fsys := range fsyss {
		err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(name) {
				return nil
			}
			b, err := fs.ReadFile(fsys, name)
			if err != nil {
				return err
			}
			defs, err := parseDefinitions(name, b)
			if err != nil {
				errs = append(errs, &ProfileError{Source: name, Profile: "?", Errs: []error{err}})
				return nil
			}
			for i := range defs {
				p, perrs := defs[i].profile()
				if len(perrs) > 0 {
					errs = append(errs, &ProfileError{Source: name, Profile: defs[i].EEP, Errs: perrs})
					continue
				}
				if prev, ok := sources[p.ID]; ok {
					log.Debugf("eep: %v from %v overrides %v", p.ID, name, prev)
				} else {
					order = append(order, p.ID)
				}
				byID[p.ID] = p
				sources[p.ID] = name
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	profiles := make([]Profile, 0, len(order))
	names := make([]string, 0, len(order))
	for _, id := range order {
		profiles = append(profiles, byID[id])
		names = append(names, sources[id])
	}
	if len(errs) > 0 {
		return profiles, names, &LoadError{Errs: errs}
	}
	return profiles, names, nil
}

// LoadDir reads the definition files below dirs and builds a validated Registry.
// Parse and validation errors of all files are aggregated in one *LoadError.
func LoadDir(dirs ...string) (*Registry, error) {
	fsyss := make([]fs.FS, len(dirs))
	for i, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
		fsyss[i] = os.DirFS(dir)
	}
	return LoadFS(fsyss...)
}

// LoadFS is LoadDir for arbitrary file systems
func LoadFS(fsyss ...fs.FS) (*Registry, error) {
	defs, sources, err := ReadDefinitions(fsyss...)
	var errs []error
	if err != nil {
		le, ok := err.(*LoadError)
		if !ok {
			return nil, err
		}
		errs = append(errs, le.Errs...)
	}

	r, err := load(defs, sources)
	if err != nil {
		errs = append(errs, err.(*LoadError).Errs...)
	}
	if len(errs) > 0 {
		return nil, &LoadError{Errs: errs}
	}
	log.Infof("Loaded %d EEP profiles", r.Len())
	return r, nil
}
