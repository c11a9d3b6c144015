// Package realdata serves reference flow fields (x,y,z,u,v,w,p records) by simulation time.
package realdata

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/pinnflow/internal/npy"
	"github.com/san-kum/pinnflow/internal/tensor"
)

const (
	DefaultDir     = "openfoam_cylinder_re100"
	DefaultURL     = "https://dataset.bj.bcebos.com/PaddleScience/cylinder3D/openfoam_cylinder_re100/cylinder3d_openfoam_re100.zip"
	DefaultArchive = "cylinder3d_openfoam_re100.zip"

	// RecordWidth is the column count of a full record.
	RecordWidth = 7
)

// ErrDataUnavailable reports a reference field that is neither on disk nor downloadable.
var ErrDataUnavailable = errors.New("reference data unavailable")

// Info selects which columns of a record Get returns.
type Info int

const (
	InfoAll    Info = iota // x,y,z,u,v,w,p
	InfoCord               // x,y,z
	InfoPhysic             // u,v,w,p
)

func (i Info) String() string {
	switch i {
	case InfoCord:
		return "cord"
	case InfoPhysic:
		return "physic"
	default:
		return "all"
	}
}

// ParseInfo accepts "cord", "physic" and "" / "all".
func ParseInfo(s string) (Info, error) {
	switch s {
	case "", "all", "none":
		return InfoAll, nil
	case "cord":
		return InfoCord, nil
	case "physic":
		return InfoPhysic, nil
	}
	return InfoAll, fmt.Errorf("unknown info %q (want cord, physic or all)", s)
}

// Columns returns the [lo, hi) column range of a record selected by i.
func (i Info) Columns() (lo, hi int) {
	switch i {
	case InfoCord:
		return 0, 3
	case InfoPhysic:
		return 3, 7
	default:
		return 0, RecordWidth
	}
}

// Accessor is what the time-marching driver needs from a reference data source.
type Accessor interface {
	Get(t float64, info Info) (tensor.Array, error)
}

type Source struct {
	Dir     string
	URL     string
	Archive string
	Client  *http.Client
}

func NewSource(dir string) *Source {
	if dir == "" {
		dir = DefaultDir
	}
	return &Source{
		Dir:     dir,
		URL:     DefaultURL,
		Archive: filepath.Join(filepath.Dir(filepath.Clean(dir)), DefaultArchive),
		Client:  http.DefaultClient,
	}
}

func FileName(t float64) string {
	return fmt.Sprintf("flow_re100_%d_xyzuvwp.npy", int(t))
}

func (s *Source) Path(t float64) string {
	return filepath.Join(s.Dir, FileName(t))
}

// Get loads the record file for time t, downloading the dataset first when its
// directory does not exist.
func (s *Source) Get(t float64, info Info) (tensor.Array, error) {
	if err := s.Ensure(); err != nil {
		return tensor.Array{}, err
	}

	data, err := npy.Load(s.Path(t))
	if err != nil {
		return tensor.Array{}, fmt.Errorf("%w: t=%g: %v", ErrDataUnavailable, t, err)
	}
	if data.Rank() != 2 || data.Cols() < RecordWidth {
		return tensor.Array{}, fmt.Errorf("%w: t=%g: expected (n, %d) records, got %v", ErrDataUnavailable, t, RecordWidth, data.Shape)
	}

	lo, hi := info.Columns()
	return data.ColSlice(lo, hi), nil
}

// Ensure makes the dataset directory available, downloading and extracting the
// archive if needed. Failures are not retried.
func (s *Source) Ensure() error {
	if _, err := os.Stat(s.Dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	if _, err := os.Stat(s.Archive); os.IsNotExist(err) {
		if err := s.download(); err != nil {
			return fmt.Errorf("%w: download %s: %v", ErrDataUnavailable, s.URL, err)
		}
	}
	if err := extract(s.Archive, s.Dir); err != nil {
		os.RemoveAll(s.Dir)
		return fmt.Errorf("%w: extract %s: %v", ErrDataUnavailable, s.Archive, err)
	}
	return nil
}

func (s *Source) download() error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(s.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed download: %s", resp.Status)
	}

	if dir := filepath.Dir(s.Archive); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Archive + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Archive)
}

func extract(archive, dst string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(dst) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dst, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
