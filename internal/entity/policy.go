package entity

// Policy selects a part of the namespace for raiding. Policies are immutable
// once loaded; the catalog replaces the whole list on reload.
type Policy struct {
	Name         string   `yaml:"name" json:"name"`
	SrcPaths     []string `yaml:"src_paths" json:"src_paths"`
	CodecID      string   `yaml:"codec_id" json:"codec_id"`
	FileListPath string   `yaml:"file_list_path" json:"file_list_path"`
	ShouldRaid   bool     `yaml:"should_raid" json:"should_raid"`

	TargetReplication int  `yaml:"target_replication" json:"target_replication"`
	MetaReplication   int  `yaml:"meta_replication" json:"meta_replication"`
	Simulate          bool `yaml:"simulate" json:"simulate"`
}
