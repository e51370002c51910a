package repository

import (
	"bytes"
	"encoding/json"
	"maps"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

const (
	dataFile   = "data.ddh5"
	starMarker = "__star__.tag"
	starTag    = "star"
)

func unescapePath(p string) string { return strings.ReplaceAll(p, "#", "/") }

// AddBucket creates a named bucket. dir is the lair-relative directory that
// holds its record; empty means the lair root.
func (r *Repository) AddBucket(name, user, dir string) (*models.Entity, error) {
	if err := validation.Validate(name, nameRules...); err != nil {
		return nil, apperr.Invalid("repository: bucket name: %v", err)
	}
	var out *models.Entity
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		if _, taken := r.manifest.Buckets[name]; taken {
			return apperr.Conflict("bucket %q already exists", name)
		}
		if dir != "" {
			ok, err := r.files.Exists(dir)
			if err != nil {
				return apperr.Invalid("bucket location %s: %v", dir, err)
			}
			if !ok {
				return apperr.NotFound("bucket location %s", dir)
			}
		}
		b := models.NewEntity(models.KindBucket, name, user, "")
		loc := path.Join(dir, FileName(b.ID, b.Name))
		if err := t.create(b, loc); err != nil {
			return err
		}
		t.editManifest().Buckets[name] = loc
		t.emit(EventCreated, b)
		out = b.Clone()
		return nil
	})
	return out, err
}

// Buckets maps bucket identifiers to names.
func (r *Repository) Buckets() (map[string]string, error) {
	if err := r.loadBuckets(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	for id, e := range r.forest.Entities {
		if e.Kind == models.KindBucket {
			out[id] = e.Name
		}
	}
	return out, nil
}

// bucket returns the live bucket id or a validation error for other kinds.
func (r *Repository) bucket(id string) (*models.Entity, error) {
	b, err := r.entity(id)
	if err != nil {
		return nil, err
	}
	if b.Kind != models.KindBucket {
		return nil, apperr.Invalid("%s is a %s, not a Bucket", id, b.Kind)
	}
	return b, nil
}

// SetTargetBucket links id to a bucket. Linking twice is a no-op.
func (r *Repository) SetTargetBucket(id, bucketID string) error {
	if err := r.loadBuckets(); err != nil {
		return err
	}
	return r.update(id, func(_ *tx, e *models.Entity) error {
		if _, err := r.bucket(bucketID); err != nil {
			return err
		}
		e.SetBucketTarget(bucketID)
		return nil
	})
}

// UnsetTargetBucket removes the link between id and a bucket.
func (r *Repository) UnsetTargetBucket(id, bucketID string) error {
	if err := r.loadBuckets(); err != nil {
		return err
	}
	return r.update(id, func(_ *tx, e *models.Entity) error {
		if _, err := r.entity(bucketID); err != nil {
			return err
		}
		e.UnsetBucketTarget(bucketID)
		return nil
	})
}

// InstanceRequest registers a dataset directory with a bucket.
type InstanceRequest struct {
	Bucket  string
	DataDir string
	User    string
	Start   time.Time
	End     time.Time
}

// Validate checks the request shape.
func (q InstanceRequest) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Bucket, validation.Required),
		validation.Field(&q.DataDir, validation.Required),
		validation.Field(&q.User, validation.Required),
	)
}

// AddInstance creates an instance for the dataset in q.DataDir, which must
// contain a data.ddh5 file. The record is stored in the data directory.
func (r *Repository) AddInstance(q InstanceRequest) (*models.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, apperr.Invalid("repository: add instance: %v", err)
	}
	if err := r.loadBuckets(); err != nil {
		return nil, err
	}
	dir := path.Clean(q.DataDir)
	var out *models.Entity
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(q.User); err != nil {
			return err
		}
		b, err := r.bucket(q.Bucket)
		if err != nil {
			return err
		}
		ok, err := r.files.Exists(path.Join(dir, dataFile))
		if err != nil {
			return apperr.Invalid("data location %s: %v", dir, err)
		}
		if !ok {
			return apperr.NotFound("data file %s", path.Join(dir, dataFile))
		}
		if existing, _ := r.instanceIn(dir); existing != nil {
			return apperr.Conflict("%s already has instance %s", dir, existing.ID)
		}

		in := models.NewEntity(models.KindInstance, path.Base(dir), q.User, b.ID)
		in.Instance.Data = []string{path.Join(dir, dataFile)}
		if !q.Start.IsZero() {
			in.StartTime = q.Start
		}
		if !q.End.IsZero() {
			in.EndTime = q.End
		}
		loc := path.Join(dir, FileName(in.ID, in.Name))
		if err := t.create(in, loc); err != nil {
			return err
		}
		t.touch(b)
		b.Bucket.Instances[loc] = in.ID
		t.emit(EventCreated, in)
		t.emit(EventUpdated, b)
		out = in.Clone()
		return nil
	})
	return out, err
}

// instanceIn finds the instance whose record lives in dataLoc. dataLoc may
// be the data directory, its data file or the record file itself.
func (r *Repository) instanceIn(dataLoc string) (*models.Entity, error) {
	dataLoc = path.Clean(dataLoc)
	dir := dataLoc
	switch {
	case path.Base(dataLoc) == dataFile:
		dir = path.Dir(dataLoc)
	case path.Ext(dataLoc) == ".toml":
		id, err := r.idx.ResolveID(dataLoc)
		if err != nil {
			return nil, err
		}
		return r.entity(id)
	}
	for id, e := range r.forest.Entities {
		if e.Kind != models.KindInstance {
			continue
		}
		if loc, err := r.idx.ResolveLocation(id); err == nil && path.Dir(loc) == dir {
			return e, nil
		}
	}
	return nil, apperr.NotFound("instance at %s", dataLoc)
}

// AddAnalysisFiles attaches files produced by analysing the dataset in
// dataLoc. Images and html plots go to the images, notebooks to the
// analysis and json files to the stored parameters; other files are
// ignored. Every file must exist.
func (r *Repository) AddAnalysisFiles(dataLoc string, files []string) error {
	if len(files) == 0 {
		return apperr.Invalid("no analysis files given")
	}
	if err := r.loadBuckets(); err != nil {
		return err
	}
	return r.mutate(func(t *tx) error {
		in, err := r.instanceIn(dataLoc)
		if err != nil {
			return err
		}
		for _, f := range files {
			ok, err := r.files.Exists(f)
			if err != nil {
				return apperr.Invalid("analysis file %s: %v", f, err)
			}
			if !ok {
				return apperr.NotFound("analysis file %s", f)
			}
		}
		t.touch(in)
		d := in.Instance
		for _, f := range files {
			f = path.Clean(f)
			switch strings.ToLower(path.Ext(f)) {
			case ".jpg", ".jpeg", ".png":
				if !slices.Contains(d.Images, f) {
					d.Images = append(d.Images, f)
					t.indexImage(f, in.ID)
				}
			case ".html":
				if !slices.Contains(d.Images, f) {
					d.Images = append(d.Images, f)
				}
			case ".ipynb":
				if !slices.Contains(d.Analysis, f) {
					d.Analysis = append(d.Analysis, f)
				}
			case ".json":
				if !slices.Contains(d.StoredParams, f) {
					d.StoredParams = append(d.StoredParams, f)
				}
			}
		}
		t.emit(EventUpdated, in)
		return nil
	})
}

// ToggleStar flips the star of the instance in dataLoc, both as a tag on the
// record and as a marker file next to the data. It reports the new state.
func (r *Repository) ToggleStar(dataLoc string) (bool, error) {
	if err := r.loadBuckets(); err != nil {
		return false, err
	}
	var starred bool
	err := r.mutate(func(t *tx) error {
		in, err := r.instanceIn(unescapePath(dataLoc))
		if err != nil {
			return err
		}
		loc, err := r.idx.ResolveLocation(in.ID)
		if err != nil {
			return err
		}
		marker := path.Join(path.Dir(loc), starMarker)
		present, err := r.files.Exists(marker)
		if err != nil {
			return apperr.IO("repository: star marker", err)
		}
		t.touch(in)
		if present {
			if err := r.files.Delete(marker); err != nil {
				return apperr.IO("repository: remove star marker", err)
			}
			in.Instance.Tags = slices.DeleteFunc(in.Instance.Tags, func(s string) bool { return s == starTag })
		} else {
			if err := r.files.Write(marker, nil); err != nil {
				return apperr.IO("repository: write star marker", err)
			}
			if !in.Instance.HasTag(starTag) {
				in.Instance.Tags = append(in.Instance.Tags, starTag)
			}
		}
		starred = !present
		t.emit(EventUpdated, in)
		return nil
	})
	return starred, err
}

// withBuckets returns the record whose buckets apply to id: id itself when
// it has any, otherwise its nearest ancestor that does. nil when none has.
func (r *Repository) withBuckets(id string) (*models.Entity, error) {
	e, err := r.entity(id)
	if err != nil {
		return nil, err
	}
	for steps := 0; steps <= len(r.forest.Entities); steps++ {
		if len(e.Buckets) > 0 {
			return e, nil
		}
		if e.Parent == "" {
			return nil, nil
		}
		if e, err = r.entity(e.Parent); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func compileFilter(query string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, apperr.Invalid("bad filter %q: %v", query, err)
	}
	return re, nil
}

// sortedInstances returns the (location, id) pairs of a bucket by location.
func sortedInstances(b *models.Entity) []string {
	return slices.Sorted(maps.Keys(b.Bucket.Instances))
}

// DataSuggestions returns up to n starred instances from the buckets that
// apply to id whose name matches query, keyed by instance name.
func (r *Repository) DataSuggestions(id, query string, n int) (map[string]string, error) {
	re, err := compileFilter(query)
	if err != nil {
		return nil, err
	}
	if err := r.loadBuckets(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	holder, err := r.withBuckets(id)
	if err != nil || holder == nil {
		return map[string]string{}, err
	}
	out := map[string]string{}
	for _, bid := range holder.Buckets {
		b, ok := r.forest.Entities[bid]
		if !ok || b.Bucket == nil {
			continue
		}
		for _, loc := range sortedInstances(b) {
			if len(out) >= n {
				return out, nil
			}
			in, ok := r.forest.Entities[b.Bucket.Instances[loc]]
			if !ok || in.Deleted || !in.Instance.HasTag(starTag) {
				continue
			}
			if re.MatchString(in.Name) {
				out[in.Name] = in.ID
			}
		}
	}
	return out, nil
}

// Graphic is one image suggestion.
type Graphic struct {
	Path       string `json:"path"`
	InstanceID string `json:"instance_id"`
}

// GraphicSuggestions returns up to n images or html plots of the instances in
// the buckets that apply to id. Keys are the last three path elements of
// each image.
func (r *Repository) GraphicSuggestions(id, query string, n int) (map[string]Graphic, error) {
	re, err := compileFilter(query)
	if err != nil {
		return nil, err
	}
	if err := r.loadBuckets(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	holder, err := r.withBuckets(id)
	if err != nil || holder == nil {
		return map[string]Graphic{}, err
	}
	out := map[string]Graphic{}
	for _, bid := range holder.Buckets {
		b, ok := r.forest.Entities[bid]
		if !ok || b.Bucket == nil {
			continue
		}
		for _, loc := range sortedInstances(b) {
			in, ok := r.forest.Entities[b.Bucket.Instances[loc]]
			if !ok || in.Deleted {
				continue
			}
			for _, img := range in.Instance.Images {
				if len(out) >= n {
					return out, nil
				}
				switch strings.ToLower(path.Ext(img)) {
				case ".png", ".jpg", ".jpeg", ".html":
				default:
					continue
				}
				key := lastElems(img, 3)
				if re.MatchString(key) {
					out[key] = Graphic{Path: strings.ReplaceAll(img, "/", "#"), InstanceID: in.ID}
				}
			}
		}
	}
	return out, nil
}

func lastElems(p string, n int) string {
	parts := strings.Split(p, "/")
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, "/")
}

// StoredParams reads every json parameter file of an instance, keyed by file
// stem. Non-finite numbers come back as the strings "Infinity",
// "-Infinity" and "NaN".
func (r *Repository) StoredParams(id string) (map[string]any, error) {
	if err := r.lookup(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, err := r.entity(id)
	if err != nil {
		return nil, err
	}
	if in.Kind != models.KindInstance {
		return nil, apperr.Invalid("%s is a %s, not an Instance", id, in.Kind)
	}
	out := map[string]any{}
	for _, f := range in.Instance.StoredParams {
		if path.Ext(f) != ".json" {
			continue
		}
		raw, err := r.files.Read(f)
		if err != nil {
			return nil, apperr.IO("repository: stored params "+f, err)
		}
		var v any
		if err := json.Unmarshal(quoteNonFinite(raw), &v); err != nil {
			return nil, apperr.Invalid("stored params %s: %v", f, err)
		}
		out[strings.TrimSuffix(path.Base(f), ".json")] = v
	}
	return out, nil
}

// quoteNonFinite turns the bare Infinity, -Infinity and NaN tokens some
// writers emit into json strings.
func quoteNonFinite(in []byte) []byte {
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(in); i++ {
		c := in[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		for _, tok := range []string{"-Infinity", "Infinity", "NaN"} {
			if bytes.HasPrefix(in[i:], []byte(tok)) {
				out.WriteString(`"` + tok + `"`)
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

// InstanceOfImage returns the instance owning the image at imagePath.
// '#' may stand in for '/'.
func (r *Repository) InstanceOfImage(imagePath string) (string, error) {
	if err := r.loadBuckets(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.forest.Images[path.Clean(unescapePath(imagePath))]
	if !ok {
		return "", apperr.NotFound("image %s", imagePath)
	}
	return id, nil
}
