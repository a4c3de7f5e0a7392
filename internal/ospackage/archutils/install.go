package archutils

// Install hook function names recognised by pacman in a .INSTALL file,
// in the order they are rendered.
const (
	PreInstall  = "pre_install"
	PostInstall = "post_install"
	PreUpgrade  = "pre_upgrade"
	PostUpgrade = "post_upgrade"
	PreRemove   = "pre_remove"
	PostRemove  = "post_remove"
)

var InstallFunctions = []string{PreInstall, PostInstall, PreUpgrade, PostUpgrade, PreRemove, PostRemove}
