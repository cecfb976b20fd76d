package build

import (
	"rpmkit/internal/macro"
)

// BuildPre is the default prologue of every stage script.
const BuildPre = `RPM_SOURCE_DIR="%{_sourcedir}"
RPM_BUILD_DIR="%{_builddir}"
RPM_OPT_FLAGS="%{?optflags}"
RPM_ARCH="%{?_arch}"
RPM_OS="%{?_os}"
export RPM_SOURCE_DIR RPM_BUILD_DIR RPM_OPT_FLAGS RPM_ARCH RPM_OS
RPM_DOC_DIR="%{_docdir}"
export RPM_DOC_DIR
RPM_PACKAGE_NAME="%{name}"
RPM_PACKAGE_VERSION="%{version}"
RPM_PACKAGE_RELEASE="%{release}"
export RPM_PACKAGE_NAME RPM_PACKAGE_VERSION RPM_PACKAGE_RELEASE
RPM_BUILD_ROOT="%{buildroot}"
export RPM_BUILD_ROOT
%{?_build_debug:set -x}
umask 022
cd "%{_builddir}"`

var defaults = [][2]string{
	{"_topdir", "/usr/src/rpmkit"},
	{"_builddir", "%{_topdir}/BUILD"},
	{"_sourcedir", "%{_topdir}/SOURCES"},
	{"_specdir", "%{_topdir}/SPECS"},
	{"_rpmdir", "%{_topdir}/RPMS"},
	{"_srcrpmdir", "%{_topdir}/SRPMS"},
	{"_tmppath", "/var/tmp"},
	{"_prefix", "/usr"},
	{"_exec_prefix", "%{_prefix}"},
	{"_bindir", "%{_exec_prefix}/bin"},
	{"_sbindir", "%{_exec_prefix}/sbin"},
	{"_lib", "lib"},
	{"_libdir", "%{_exec_prefix}/%{_lib}"},
	{"_includedir", "%{_prefix}/include"},
	{"_datadir", "%{_prefix}/share"},
	{"_mandir", "%{_datadir}/man"},
	{"_infodir", "%{_datadir}/info"},
	{"_docdir", "%{_datadir}/doc"},
	{"_sysconfdir", "/etc"},
	{"_localstatedir", "/var"},
	{"_cat", "/bin/cat"},
	{"_gzip", "/usr/bin/gzip"},
	{"_bzip2", "/usr/bin/bzip2"},
	{"_xz", "/usr/bin/xz"},
	{"_zstd", "/usr/bin/zstd"},
	{"_unzip", "/usr/bin/unzip"},
	{"_fixperms", "/bin/chmod -Rf a+rX,u+w,g-w,o-w"},
	{"___build_pre", BuildPre},
}

// DefineDefaults adds the built-in directory and tool macros that are not
// already defined in c.
func DefineDefaults(c *macro.Context) {
	for _, d := range defaults {
		if !c.IsDefined(d[0]) {
			c.Add(d[0], d[1], macro.LevelDefault)
		}
	}
}
