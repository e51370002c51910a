package api

import (
	"time"

	"github.com/starford/dragonden/internal/models"
)

// CreateLibraryRequest is the request body for creating a library.
type CreateLibraryRequest struct {
	Name string `json:"name" example:"Physics" validate:"required"`
	User string `json:"user" example:"alice@example.com" validate:"required"`
}

// CreateEntityRequest is the request body for creating a tree record.
type CreateEntityRequest struct {
	Name   string      `json:"name" example:"Cooldown 12" validate:"required"`
	Kind   models.Kind `json:"kind" example:"Project" validate:"required"`
	Parent string      `json:"parent" validate:"required"`
	User   string      `json:"user" example:"alice@example.com" validate:"required"`
	Under  string      `json:"under,omitempty"`
}

// UpdateEntityRequest renames a record and/or replaces its description.
type UpdateEntityRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	User        string  `json:"user" validate:"required"`
}

// ParamRequest sets one free-form parameter.
type ParamRequest struct {
	Key   string `json:"key" example:"temperature" validate:"required"`
	Value string `json:"value" example:"10mK"`
}

// BlockRequest is the request body for adding or editing a content block.
type BlockRequest struct {
	Kind       string `json:"kind" example:"text" validate:"required"`
	Text       string `json:"text,omitempty"`
	Path       string `json:"path,omitempty"`
	Title      string `json:"title,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	User       string `json:"user" validate:"required"`
	Under      string `json:"under,omitempty"`
}

func (q BlockRequest) content() models.Content {
	return models.Content{Text: q.Text, Path: q.Path, Title: q.Title, InstanceID: q.InstanceID}
}

// CommentRequest opens a comment thread or replies to one.
type CommentRequest struct {
	Target string `json:"target,omitempty"`
	Body   string `json:"body" validate:"required"`
	User   string `json:"user" validate:"required"`
}

// ResolveRequest marks a comment thread resolved or open.
type ResolveRequest struct {
	Resolved bool `json:"resolved"`
}

// BucketRequest creates a bucket.
type BucketRequest struct {
	Name string `json:"name" validate:"required"`
	User string `json:"user" validate:"required"`
	Dir  string `json:"dir,omitempty"`
}

// InstanceRequest registers a dataset with a bucket.
type InstanceRequest struct {
	Bucket  string    `json:"bucket" validate:"required"`
	DataDir string    `json:"data_dir" example:"runs/2024-05-01/r1" validate:"required"`
	User    string    `json:"user" validate:"required"`
	Start   time.Time `json:"start_time,omitempty"`
	End     time.Time `json:"end_time,omitempty"`
}

// AnalysisRequest attaches analysis output to the dataset in DataDir.
type AnalysisRequest struct {
	DataDir string   `json:"data_dir" validate:"required"`
	Files   []string `json:"files" validate:"required"`
}

// StarRequest toggles the star of the dataset in DataDir.
type StarRequest struct {
	DataDir string `json:"data_dir" validate:"required"`
}

// UserRequest registers a user.
type UserRequest struct {
	Email string `json:"email" example:"bob@example.com" validate:"required"`
	Name  string `json:"name" example:"Bob" validate:"required"`
}

// ColorRequest changes a user's colour.
type ColorRequest struct {
	Color string `json:"color" example:"#ff8800" validate:"required"`
}

// BlockDetail is the API form of a content block: its current version plus
// the length of its history.
type BlockDetail struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	Deleted   bool           `json:"deleted"`
	Current   models.Version `json:"current"`
	Versions  int            `json:"versions"`
}

// OrderItem is one visible slot of an entity's display order.
type OrderItem struct {
	Target string            `json:"target"`
	Kind   models.TargetKind `json:"kind"`
}

// InstanceDetail is the dataset payload of an Instance.
type InstanceDetail struct {
	Data         []string `json:"data"`
	Analysis     []string `json:"analysis"`
	Images       []string `json:"images"`
	StoredParams []string `json:"stored_params"`
	Tags         []string `json:"tags"`
}

// EntityDetail is the full entity response type.
type EntityDetail struct {
	ID            string            `json:"id"`
	Kind          models.Kind       `json:"kind"`
	Name          string            `json:"name"`
	User          string            `json:"user"`
	PreviousNames []string          `json:"previous_names"`
	Parent        string            `json:"parent,omitempty"`
	Deleted       bool              `json:"deleted"`
	Description   string            `json:"description"`
	Children      []string          `json:"children"`
	Params        map[string]string `json:"params"`
	Buckets       []string          `json:"buckets"`
	Bookmarked    bool              `json:"bookmarked"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Order         []OrderItem       `json:"order"`
	Blocks        []BlockDetail     `json:"blocks"`
	Comments      []*models.Comment `json:"comments"`
	Instances     map[string]string `json:"instances,omitempty"`
	Instance      *InstanceDetail   `json:"instance,omitempty"`
}

func blockDetail(b *models.ContentBlock) BlockDetail {
	return BlockDetail{
		ID:        b.ID,
		Kind:      b.Kind.String(),
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
		Deleted:   b.Deleted,
		Current:   b.Current(),
		Versions:  len(b.History),
	}
}

func entityDetail(e *models.Entity) EntityDetail {
	d := EntityDetail{
		ID:            e.ID,
		Kind:          e.Kind,
		Name:          e.Name,
		User:          e.User,
		PreviousNames: append([]string{}, e.PreviousNames...),
		Parent:        e.Parent,
		Deleted:       e.Deleted,
		Description:   e.Description,
		Children:      e.ActiveChildren(),
		Params:        make(map[string]string, len(e.Params)),
		Buckets:       append([]string{}, e.Buckets...),
		Bookmarked:    e.Bookmarked,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Order:         []OrderItem{},
		Blocks:        make([]BlockDetail, 0, len(e.Blocks)),
		Comments:      append([]*models.Comment{}, e.Comments...),
	}
	for _, p := range e.Params {
		d.Params[p.Key] = p.Value
	}
	for _, o := range e.Order.Active() {
		d.Order = append(d.Order, OrderItem{Target: o.Target, Kind: o.Kind})
	}
	for _, b := range e.Blocks {
		d.Blocks = append(d.Blocks, blockDetail(b))
	}
	if e.Bucket != nil {
		d.Instances = e.Bucket.Instances
	}
	if in := e.Instance; in != nil {
		d.Instance = &InstanceDetail{
			Data:         in.Data,
			Analysis:     in.Analysis,
			Images:       in.Images,
			StoredParams: in.StoredParams,
			Tags:         in.Tags,
		}
	}
	return d
}

// ResourceUploadResponse is returned after a successful resource upload.
type ResourceUploadResponse struct {
	Filename string `json:"filename" example:"image.png" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/resources/image.png" validate:"required"`
}
