package jetstream

import "github.com/carlmjohnson/versioninfo"

// Version reports the module version this binary was built from
// (vX.Y.Z, or a pseudo-version/revision when built outside a tagged
// release), via carlmjohnson/versioninfo's build-info introspection.
func Version() string {
	return versioninfo.Version
}

// Revision reports the VCS revision embedded in the build, short-form.
func Revision() string {
	return versioninfo.Revision
}
