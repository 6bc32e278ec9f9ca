package client

import (
	"fmt"
	"net/url"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// DefaultBaseURL is the root of the PyPI APIs.
const DefaultBaseURL = "https://pypi.org"

// URLs builds the PyPI endpoints used by the sync jobs.
type URLs struct {
	BaseURL string
}

// NewURLs returns a builder rooted at baseURL, or at PyPI when empty.
func NewURLs(baseURL string) *URLs {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &URLs{BaseURL: strings.TrimSuffix(baseURL, "/")}
}

// XMLRPC is the endpoint serving the changelog methods.
func (u *URLs) XMLRPC() string {
	return u.BaseURL + "/pypi"
}

// ProjectJSON is the JSON API document for a project.
func (u *URLs) ProjectJSON(name string) string {
	return fmt.Sprintf("%s/pypi/%s/json", u.BaseURL, url.PathEscape(name))
}

// SimpleIndex is the Simple API project listing.
func (u *URLs) SimpleIndex() string {
	return u.BaseURL + "/simple/"
}

// Registry is the human-facing project or release page.
func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/project/%s/%s/", u.BaseURL, name, version)
	}
	return fmt.Sprintf("%s/project/%s/", u.BaseURL, name)
}

// PURL returns the package URL for a PyPI project, with an optional version.
// Names are lower-cased with underscores replaced by dashes as the purl spec
// requires for the pypi type.
func PURL(name, version string) string {
	name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	return packageurl.NewPackageURL(packageurl.TypePyPi, "", name, version, nil, "").ToString()
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "registry" and "purl".
func (u *URLs) BuildURLs(name, version string) map[string]string {
	result := make(map[string]string)
	if v := u.Registry(name, version); v != "" {
		result["registry"] = v
	}
	if v := PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}
