package models

import (
	"fmt"
	"slices"
	"strings"
)

// IndexConfig is the configuration of one index, stored inside the owning
// user's record.
//
// ACLUpload is nil only for records written before the field existed; the
// write path always stores a non-nil slice, so an empty list and a missing
// list stay distinguishable after a JSON round trip.
type IndexConfig struct {
	Type                 string   `json:"type"`
	Volatile             bool     `json:"volatile"`
	Bases                []string `json:"bases"`
	ACLUpload            []string `json:"acl_upload"`
	UploadTriggerJenkins *string  `json:"uploadtrigger_jenkins"`

	Extra map[string]any `json:"-"`
}

type indexConfigJSON IndexConfig

var indexConfigKeys = []string{"type", "volatile", "bases", "acl_upload", "uploadtrigger_jenkins"}

func (c IndexConfig) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(indexConfigJSON(c), c.Extra)
}

func (c *IndexConfig) UnmarshalJSON(data []byte) error {
	var known indexConfigJSON
	extra, err := splitExtra(data, &known, indexConfigKeys)
	if err != nil {
		return err
	}
	*c = IndexConfig(known)
	c.Extra = extra
	return nil
}

// Clone returns a deep copy.
func (c *IndexConfig) Clone() *IndexConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Bases = slices.Clone(c.Bases)
	out.ACLUpload = slices.Clone(c.ACLUpload)
	if c.UploadTriggerJenkins != nil {
		v := *c.UploadTriggerJenkins
		out.UploadTriggerJenkins = &v
	}
	out.Extra = cloneExtra(c.Extra)
	return &out
}

// IndexConfigUpdate lists the fields a caller wants to change. Nil fields
// are left as they are.
type IndexConfigUpdate struct {
	Type                 *string
	Volatile             *bool
	Bases                *[]string
	ACLUpload            *[]string
	UploadTriggerJenkins *string
	Extra                map[string]any
}

// Apply merges u into c.
func (u IndexConfigUpdate) Apply(c *IndexConfig) {
	if u.Type != nil {
		c.Type = *u.Type
	}
	if u.Volatile != nil {
		c.Volatile = *u.Volatile
	}
	if u.Bases != nil {
		c.Bases = slices.Clone(*u.Bases)
	}
	if u.ACLUpload != nil {
		c.ACLUpload = slices.Clone(*u.ACLUpload)
	}
	if u.UploadTriggerJenkins != nil {
		v := *u.UploadTriggerJenkins
		c.UploadTriggerJenkins = &v
	}
	if len(u.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(u.Extra))
		}
		for k, v := range u.Extra {
			c.Extra[k] = v
		}
	}
}

// StageName joins user and index as "user/index".
func StageName(user, index string) string {
	return user + "/" + index
}

// SplitStageName parses "user/index", tolerating leading and trailing
// slashes such as "/root/pypi/".
func SplitStageName(name string) (user, index string, err error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid stage name %q", name)
	}
	return parts[0], parts[1], nil
}
