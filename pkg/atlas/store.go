// Package atlas loads the fixed set of ROI masks and tissue-probability maps
// for one atlas version. The store is immutable once loaded and lives for
// the process lifetime.
package atlas

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"radextract/internal/models"
	"radextract/pkg/nifti"
)

// ErrAtlasLoad marks fatal setup failures: a missing atlas directory, an
// empty ROI/TPM subdirectory, or a duplicate entry name.
var ErrAtlasLoad = errors.New("atlas load failed")

// Versions supported by the atlas directory layout.
var Versions = []string{"4wk", "12wk"}

// Entry is one named atlas volume on its native source grid.
type Entry struct {
	Name string
	Kind models.Kind
	Vol  *models.Volume
}

// Store holds all entries of one atlas version. Entries keep a stable,
// sorted-by-path order so that "first matching TPM" selections are
// deterministic.
type Store struct {
	version string
	rois    []Entry
	tpms    []Entry
}

// Load discovers and reads every mask under
// <root>/<version>Atlas/Regions_of_Interest_<version>/ROI_thr0 and every map
// under <root>/<version>Atlas/Tissue_Probability_Maps_<version>.
func Load(root, version string) (*Store, error) {
	if !validVersion(version) {
		return nil, errors.WithDetailf(ErrAtlasLoad,
			"unknown atlas version %q (supported: %s)", version, strings.Join(Versions, ", "))
	}

	verDir := filepath.Join(root, version+"Atlas")
	roiDir := filepath.Join(verDir, "Regions_of_Interest_"+version, "ROI_thr0")
	tpmDir := filepath.Join(verDir, "Tissue_Probability_Maps_"+version)

	rois, err := loadKind(roiDir, models.ROI)
	if err != nil {
		return nil, err
	}
	tpms, err := loadKind(tpmDir, models.TPM)
	if err != nil {
		return nil, err
	}

	return &Store{version: version, rois: rois, tpms: tpms}, nil
}

func loadKind(dir string, kind models.Kind) ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.nii*"))
	if err != nil {
		return nil, errors.Wrapf(ErrAtlasLoad, "scanning %s: %v", dir, err)
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrAtlasLoad, "no %s volumes under %s", kind, dir)
	}
	sort.Strings(paths)

	entries := make([]Entry, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		name := CleanName(p)
		if kind == models.ROI {
			name = strings.TrimSuffix(name, "_thr0")
		}
		if prev, dup := seen[name]; dup {
			// Silent overwrite would make the output table depend on file
			// ordering; fail loudly instead.
			return nil, errors.Wrapf(ErrAtlasLoad,
				"duplicate %s name %q (%s and %s)", kind, name, prev, p)
		}
		seen[name] = p

		vol, err := nifti.Read(p)
		if err != nil {
			return nil, errors.Wrapf(ErrAtlasLoad, "loading %s: %v", p, err)
		}
		entries = append(entries, Entry{Name: name, Kind: kind, Vol: vol})
	}
	return entries, nil
}

// CleanName derives an entry name from a volume path by stripping everything
// from the first ".nii" onward.
func CleanName(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, ".nii"); i >= 0 {
		return base[:i]
	}
	return base
}

// Version returns the loaded atlas version tag.
func (s *Store) Version() string { return s.version }

// ROIs returns the region masks in load order.
func (s *Store) ROIs() []Entry { return s.rois }

// TPMs returns the tissue-probability maps in load order.
func (s *Store) TPMs() []Entry { return s.tpms }

// Entries returns all entries, ROIs first, preserving load order.
func (s *Store) Entries() []Entry {
	all := make([]Entry, 0, len(s.rois)+len(s.tpms))
	all = append(all, s.rois...)
	all = append(all, s.tpms...)
	return all
}

// Len returns the total entry count.
func (s *Store) Len() int { return len(s.rois) + len(s.tpms) }

func validVersion(v string) bool {
	for _, known := range Versions {
		if v == known {
			return true
		}
	}
	return false
}

// String summarizes the store for progress logs.
func (s *Store) String() string {
	return fmt.Sprintf("atlas %s: %d ROIs, %d TPMs", s.version, len(s.rois), len(s.tpms))
}
