package header

import "fmt"

// Tag identifies a header entry. Numbers follow the classic rpm layout so
// query formats and dumps stay familiar.
type Tag int32

const (
	TagName          Tag = 1000
	TagVersion       Tag = 1001
	TagRelease       Tag = 1002
	TagEpoch         Tag = 1003
	TagSummary       Tag = 1004
	TagDescription   Tag = 1005
	TagBuildTime     Tag = 1006
	TagBuildHost     Tag = 1007
	TagInstallTime   Tag = 1008
	TagSize          Tag = 1009
	TagDistribution  Tag = 1010
	TagVendor        Tag = 1011
	TagLicense       Tag = 1014
	TagPackager      Tag = 1015
	TagGroup         Tag = 1016
	TagChangelog     Tag = 1017
	TagSource        Tag = 1018
	TagPatch         Tag = 1019
	TagURL           Tag = 1020
	TagOS            Tag = 1021
	TagArch          Tag = 1022
	TagPreIn         Tag = 1023
	TagPostIn        Tag = 1024
	TagPreUn         Tag = 1025
	TagPostUn        Tag = 1026
	TagOldFilenames  Tag = 1027
	TagFileSizes     Tag = 1028
	TagFileStates    Tag = 1029
	TagFileModes     Tag = 1030
	TagFileRdevs     Tag = 1033
	TagFileMtimes    Tag = 1034
	TagFileDigests   Tag = 1035
	TagFileLinkTos   Tag = 1036
	TagFileFlags     Tag = 1037
	TagFileUserName  Tag = 1039
	TagFileGroupName Tag = 1040
	TagSourceRPM     Tag = 1044
	TagVerifyScript  Tag = 1045
	TagArchiveSize   Tag = 1046

	TagProvideName     Tag = 1047
	TagRequireFlags    Tag = 1048
	TagRequireName     Tag = 1049
	TagRequireVersion  Tag = 1050
	TagNoSource        Tag = 1051
	TagNoPatch         Tag = 1052
	TagConflictFlags   Tag = 1053
	TagConflictName    Tag = 1054
	TagConflictVersion Tag = 1055
	TagDefaultPrefix   Tag = 1056
	TagBuildRoot       Tag = 1057
	TagInstallPrefix   Tag = 1058
	TagExcludeArch     Tag = 1059
	TagExcludeOS       Tag = 1060
	TagExclusiveArch   Tag = 1061
	TagExclusiveOS     Tag = 1062
	TagAutoReqProv     Tag = 1063
	TagRPMVersion      Tag = 1064

	TagTriggerScripts   Tag = 1065
	TagTriggerName      Tag = 1066
	TagTriggerVersion   Tag = 1067
	TagTriggerFlags     Tag = 1068
	TagTriggerIndex     Tag = 1069
	TagVerifyScriptProg Tag = 1079

	TagPreInProg         Tag = 1085
	TagPostInProg        Tag = 1086
	TagPreUnProg         Tag = 1087
	TagPostUnProg        Tag = 1088
	TagObsoleteName      Tag = 1090
	TagFileInodes        Tag = 1096
	TagFileLangs         Tag = 1097
	TagPrefixes          Tag = 1098
	TagInstPrefixes      Tag = 1099
	TagTriggerScriptProg Tag = 1092
	TagProvideFlags      Tag = 1112
	TagProvideVersion    Tag = 1113
	TagObsoleteFlags     Tag = 1114
	TagObsoleteVersion   Tag = 1115
	TagDirIndexes        Tag = 1116
	TagBaseNames         Tag = 1117
	TagDirNames          Tag = 1118

	// TagMultilibs is the capability mask of the libraries installed
	// under this header. Merged installs union it.
	TagMultilibs  Tag = 1127
	TagFileColors Tag = 1140
)

var tagNames = map[Tag]string{
	TagName: "NAME", TagVersion: "VERSION", TagRelease: "RELEASE", TagEpoch: "EPOCH",
	TagSummary: "SUMMARY", TagDescription: "DESCRIPTION", TagBuildTime: "BUILDTIME",
	TagBuildHost: "BUILDHOST", TagInstallTime: "INSTALLTIME", TagSize: "SIZE",
	TagDistribution: "DISTRIBUTION", TagVendor: "VENDOR", TagLicense: "LICENSE",
	TagPackager: "PACKAGER", TagGroup: "GROUP", TagChangelog: "CHANGELOG",
	TagSource: "SOURCE", TagPatch: "PATCH", TagURL: "URL", TagOS: "OS", TagArch: "ARCH",
	TagPreIn: "PREIN", TagPostIn: "POSTIN", TagPreUn: "PREUN", TagPostUn: "POSTUN",
	TagOldFilenames: "OLDFILENAMES", TagFileSizes: "FILESIZES", TagFileStates: "FILESTATES",
	TagFileModes: "FILEMODES", TagFileRdevs: "FILERDEVS", TagFileMtimes: "FILEMTIMES",
	TagFileDigests: "FILEDIGESTS", TagFileLinkTos: "FILELINKTOS", TagFileFlags: "FILEFLAGS",
	TagFileUserName: "FILEUSERNAME", TagFileGroupName: "FILEGROUPNAME",
	TagSourceRPM: "SOURCERPM", TagVerifyScript: "VERIFYSCRIPT", TagArchiveSize: "ARCHIVESIZE",
	TagProvideName: "PROVIDENAME", TagProvideFlags: "PROVIDEFLAGS", TagProvideVersion: "PROVIDEVERSION",
	TagRequireName: "REQUIRENAME", TagRequireFlags: "REQUIREFLAGS", TagRequireVersion: "REQUIREVERSION",
	TagConflictName: "CONFLICTNAME", TagConflictFlags: "CONFLICTFLAGS", TagConflictVersion: "CONFLICTVERSION",
	TagObsoleteName: "OBSOLETENAME", TagObsoleteFlags: "OBSOLETEFLAGS", TagObsoleteVersion: "OBSOLETEVERSION",
	TagNoSource: "NOSOURCE", TagNoPatch: "NOPATCH", TagDefaultPrefix: "DEFAULTPREFIX",
	TagBuildRoot: "BUILDROOT", TagInstallPrefix: "INSTALLPREFIX", TagExcludeArch: "EXCLUDEARCH",
	TagExcludeOS: "EXCLUDEOS", TagExclusiveArch: "EXCLUSIVEARCH", TagExclusiveOS: "EXCLUSIVEOS",
	TagAutoReqProv: "AUTOREQPROV", TagRPMVersion: "RPMVERSION",
	TagTriggerScripts: "TRIGGERSCRIPTS", TagTriggerName: "TRIGGERNAME", TagTriggerVersion: "TRIGGERVERSION",
	TagTriggerFlags: "TRIGGERFLAGS", TagTriggerIndex: "TRIGGERINDEX", TagTriggerScriptProg: "TRIGGERSCRIPTPROG",
	TagVerifyScriptProg: "VERIFYSCRIPTPROG",
	TagPreInProg: "PREINPROG", TagPostInProg: "POSTINPROG", TagPreUnProg: "PREUNPROG", TagPostUnProg: "POSTUNPROG",
	TagFileInodes: "FILEINODES", TagFileLangs: "FILELANGS", TagPrefixes: "PREFIXES", TagInstPrefixes: "INSTPREFIXES",
	TagDirIndexes: "DIRINDEXES", TagBaseNames: "BASENAMES", TagDirNames: "DIRNAMES",
	TagMultilibs: "MULTILIBS", TagFileColors: "FILECOLORS",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TAG_%d", int32(t))
}

// TagByName looks a tag up by its upper-case name.
func TagByName(name string) (Tag, bool) {
	for t, n := range tagNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}
