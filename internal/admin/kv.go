package admin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
)

// parseIndexSpec turns "key=value" arguments into an update. Known keys are
// type, volatile, bases (alias upstreams) and acl_upload; list values are
// comma separated, empty items dropped.
func parseIndexSpec(args []string) (models.IndexConfigUpdate, error) {
	var u models.IndexConfigUpdate
	var msgs []string

	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			msgs = append(msgs, fmt.Sprintf("not a key=value pair: %q", arg))
			continue
		}
		switch key {
		case "type":
			v := val
			u.Type = &v
		case "volatile":
			b, err := strconv.ParseBool(val)
			if err != nil {
				msgs = append(msgs, fmt.Sprintf("volatile: %q is not a boolean", val))
				continue
			}
			u.Volatile = &b
		case "bases", "upstreams":
			list := splitList(val)
			u.Bases = &list
		case "acl_upload":
			list := splitList(val)
			u.ACLUpload = &list
		default:
			msgs = append(msgs, fmt.Sprintf("not a valid key: %s", key))
		}
	}

	if err := common.NewValidationError(msgs); err != nil {
		return models.IndexConfigUpdate{}, err
	}
	return u, nil
}

// parseMetadata builds version metadata from "key=value" arguments. Keys
// outside the known fields are kept as extra metadata.
func parseMetadata(args []string) (*models.VersionMetadata, error) {
	md := &models.VersionMetadata{}
	var msgs []string

	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			msgs = append(msgs, fmt.Sprintf("not a key=value pair: %q", arg))
			continue
		}
		switch key {
		case "name":
			md.Name = val
		case "version":
			md.Version = val
		case "summary":
			md.Summary = val
		case "home_page":
			md.HomePage = val
		case "author":
			md.Author = val
		case "author_email":
			md.AuthorEmail = val
		case "license":
			md.License = val
		case "description":
			md.Description = val
		case "keywords":
			md.Keywords = val
		case "platform":
			md.Platform = val
		case "classifiers":
			md.Classifiers = splitList(val)
		case "download_url":
			md.DownloadURL = val
		default:
			if md.Extra == nil {
				md.Extra = map[string]any{}
			}
			md.Extra[key] = val
		}
	}

	if err := common.NewValidationError(msgs); err != nil {
		return nil, err
	}
	return md, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
