package avforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	getter "github.com/hashicorp/go-getter"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// VendorDescriptorFile is the name of the JSON descriptor we write into the work
// directory. It records the vendor archive input of a build in an inspectable form.
const VendorDescriptorFile = "vendor.json"

// VendorDescriptor is the structured form of the vendor archive input
type VendorDescriptor struct {
	URL string `json:"url"`
}

// WriteVendorDescriptor serializes the descriptor to path
func WriteVendorDescriptor(path, urlTemplate string) error {
	fc, err := json.MarshalIndent(VendorDescriptor{URL: urlTemplate}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(fc, '\n'), 0644)
}

// ResolvePlatform maps the host OS/architecture to the platform triple used in
// vendor archive names.
func ResolvePlatform() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "manylinux_x86_64", nil
	case "linux/arm64":
		return "manylinux_aarch64", nil
	case "darwin/amd64":
		return "macosx_x86_64", nil
	case "darwin/arm64":
		return "macosx_arm64", nil
	default:
		return "", xerrors.Errorf("no vendor archives are published for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

// ResolveVendorURL replaces the platform placeholder in the URL template
func ResolveVendorURL(template, platform string) string {
	return strings.ReplaceAll(template, PlatformPlaceholder, platform)
}

// FetchVendor downloads the vendor archive and unpacks it into dest. The checksum,
// if non-empty, has the form "<algo>:<hex>" and is verified before unpacking.
// Any failure - unreachable host, checksum mismatch, malformed archive - is fatal
// to the build.
func FetchVendor(ctx context.Context, archiveURL, checksum, dest string) error {
	src := archiveURL
	if checksum != "" {
		u, err := url.Parse(archiveURL)
		if err != nil {
			return xerrors.Errorf("invalid vendor URL: %w", err)
		}
		q := u.Query()
		q.Set("checksum", checksum)
		u.RawQuery = q.Encode()
		src = u.String()
	}

	log.WithField("url", archiveURL).WithField("dest", dest).Debug("fetching vendor archive")

	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dest,
		Pwd:  filepath.Dir(dest),
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return xerrors.Errorf("cannot fetch vendor archive: %w", err)
	}

	return nil
}

// ValidateVendorLayout ensures the unpacked archive has the subtrees the build
// environment configuration relies on. Catching a malformed archive here yields a
// direct error instead of an obscure compiler failure later on.
func ValidateVendorLayout(dir string) error {
	var missing []string
	for _, sub := range []string{"include", "lib", filepath.Join("lib", "pkgconfig")} {
		stat, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !stat.IsDir() {
			missing = append(missing, sub+string(filepath.Separator))
		}
	}
	if len(missing) > 0 {
		return xerrors.Errorf("vendor archive is missing %s - is %s a valid prebuilt archive?", strings.Join(missing, ", "), dir)
	}

	libs, err := findSharedObjects(filepath.Join(dir, "lib"))
	if err != nil {
		return err
	}
	if len(libs) == 0 {
		return fmt.Errorf("vendor archive contains no shared objects in lib/")
	}

	return nil
}
