package debutils

// ControlField is a field name of a binary package control stanza.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldVersion       ControlField = "Version"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldDescription   ControlField = "Description"
	FieldSection       ControlField = "Section"
	FieldPriority      ControlField = "Priority"
	FieldHomepage      ControlField = "Homepage"
	FieldEssential     ControlField = "Essential"
	FieldSource        ControlField = "Source"
	FieldInstalledSize ControlField = "Installed-Size"
	FieldMultiArch     ControlField = "Multi-Arch"
	FieldLicense       ControlField = "License"
)

// RelationKind names a relation field of a control stanza.
type RelationKind string

const (
	Depends    RelationKind = "Depends"
	PreDepends RelationKind = "Pre-Depends"
	Recommends RelationKind = "Recommends"
	Suggests   RelationKind = "Suggests"
	Enhances   RelationKind = "Enhances"
	Conflicts  RelationKind = "Conflicts"
	Breaks     RelationKind = "Breaks"
	Provides   RelationKind = "Provides"
	Replaces   RelationKind = "Replaces"
)

// RelationKinds lists every relation field in control-file order.
var RelationKinds = []RelationKind{
	PreDepends, Depends, Recommends, Suggests, Enhances, Breaks, Conflicts, Provides, Replaces,
}

// ControlFile is a member of the control tarball.
type ControlFile string

const (
	FileControl   ControlFile = "control"
	FileMd5sums   ControlFile = "md5sums"
	FileConffiles ControlFile = "conffiles"
	FilePreinst   ControlFile = "preinst"
	FilePostinst  ControlFile = "postinst"
	FilePrerm     ControlFile = "prerm"
	FilePostrm    ControlFile = "postrm"
	FileConfig    ControlFile = "config"
	FileTriggers  ControlFile = "triggers"
	FileShlibs    ControlFile = "shlibs"
)

// MaintainerScripts lists the script members that are carried over.
var MaintainerScripts = []ControlFile{FilePreinst, FilePostinst, FilePrerm, FilePostrm, FileConfig}

const (
	MemberDebianBinary = "debian-binary"
	memberControlBase  = "control.tar"
	memberDataBase     = "data.tar"

	// SupportedFormatMajor is the only deb format major version accepted.
	SupportedFormatMajor = "2"
)
