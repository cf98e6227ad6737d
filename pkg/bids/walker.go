// Package bids enumerates subject and session directories of the cleaned
// atlas-space derivative tree and locates each session's diffusion volumes.
package bids

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrSetup marks a missing or unusable dataset root. Fatal: nothing can be
// processed without it.
var ErrSetup = errors.New("dataset setup failed")

// DerivativesDir is the derivative subtree holding atlas-space volumes.
var DerivativesDir = filepath.Join("derivatives", "atlas_space-clean")

// Session is one sub-*/ses-* pair with an existing dwi directory.
type Session struct {
	// Subject is the directory name, e.g. "sub-01".
	Subject string

	// Name is the session directory name, e.g. "ses-baseline".
	Name string

	// Dir is the absolute session directory path.
	Dir string
}

// DWIDir returns the session's diffusion directory.
func (s Session) DWIDir() string { return filepath.Join(s.Dir, "dwi") }

// CSVDir returns where the session's metric tables are written.
func (s Session) CSVDir() string { return filepath.Join(s.Dir, "csv") }

// Reference returns the session's FA reference volume, if present. A session
// without one is skipped entirely by the driver.
func (s Session) Reference() (string, bool) { return s.MetricFile("FA") }

// MetricFile locates the session's volume for one metric type by the
// *desc-<metric>_dwi.nii* convention. The first match in sorted order wins.
func (s Session) MetricFile(metric string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(s.DWIDir(), "*desc-"+metric+"_dwi.nii*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// QCPath returns the session's QC image path inside its csv directory.
func (s Session) QCPath() string {
	return filepath.Join(s.CSVDir(), s.Subject+"_"+s.Name+"_Full_QC.png")
}

// Walk lists every sub-*/ses-* session with a dwi directory under
// <root>/derivatives/atlas_space-clean, in sorted order. A missing root or
// derivatives tree is a setup error; sessions without a dwi directory are
// silently omitted.
func Walk(root string) ([]Session, error) {
	derivRoot := filepath.Join(root, DerivativesDir)
	subjects, err := os.ReadDir(derivRoot)
	if err != nil {
		return nil, errors.Wrapf(ErrSetup, "reading %s: %v", derivRoot, err)
	}

	var sessions []Session
	for _, subj := range sortedDirs(subjects, "sub-") {
		subjDir := filepath.Join(derivRoot, subj)
		sesDirs, err := os.ReadDir(subjDir)
		if err != nil {
			return nil, errors.Wrapf(ErrSetup, "reading %s: %v", subjDir, err)
		}
		for _, ses := range sortedDirs(sesDirs, "ses-") {
			s := Session{
				Subject: subj,
				Name:    ses,
				Dir:     filepath.Join(subjDir, ses),
			}
			if info, err := os.Stat(s.DWIDir()); err != nil || !info.IsDir() {
				continue
			}
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func sortedDirs(entries []os.DirEntry, prefix string) []string {
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
