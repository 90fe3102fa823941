package catalog

import "github.com/saurabh22suman/oreo.io-v3/pkg/validation"

// DatasetOptions is the per-dataset configuration record: row identity,
// merge keys, and the editable-column rule map live-edit sessions resolve
// at start.
type DatasetOptions struct {
	// RowIDColumn names the column carrying row identity for live edits.
	// Empty means: fall back to "id", then "row_id", then the positional
	// _row_id projection.
	RowIDColumn string `json:"row_id_column,omitempty"`
	// PrimaryKeys are the default merge keys of the dataset.
	PrimaryKeys []string `json:"primary_keys,omitempty"`
	// EditableColumns restricts which columns live-edit sessions may touch.
	EditableColumns []string `json:"editable_columns,omitempty"`
	// Rules maps column names to their business rules.
	Rules map[string][]validation.Rule `json:"rules,omitempty"`
}

func datasetOptionsKey(projectID, datasetID string) string {
	return "dsopt/" + projectID + "/" + datasetID
}

// GetDatasetOptions loads the options of a dataset; absent datasets get
// the zero value.
func (s *Store) GetDatasetOptions(projectID, datasetID string) (*DatasetOptions, error) {
	var opts DatasetOptions
	if _, err := s.Get(datasetOptionsKey(projectID, datasetID), &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

// SetDatasetOptions stores the options of a dataset.
func (s *Store) SetDatasetOptions(projectID, datasetID string, opts *DatasetOptions) error {
	return s.Put(datasetOptionsKey(projectID, datasetID), opts)
}
