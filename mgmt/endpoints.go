package mgmt

import (
	"fmt"

	"github.com/ggoodman/f5-conx-go/auth"
)

// TokenHeader carries the session token on every authenticated request.
const TokenHeader = "X-F5-Auth-Token"

// iControl REST endpoints consumed by this module.
const (
	PathLogin      = auth.LoginPath
	PathDeviceInfo = "/mgmt/shared/identified-devices/config/device-info"

	PathFileUploads     = "/mgmt/shared/file-transfer/uploads"
	PathUCSUploads      = "/mgmt/shared/file-transfer/ucs-uploads"
	PathISOUploads      = "/mgmt/cm/autodeploy/software-image-uploads"
	PathFileDownloads   = "/mgmt/shared/file-transfer/downloads"
	PathUCSDownloads    = "/mgmt/shared/file-transfer/ucs-downloads"
	PathQkviewDownloads = "/mgmt/cm/autodeploy/qkview-downloads"
	PathISODownloads    = "/mgmt/cm/autodeploy/software-image-downloads"

	PathUCS          = "/mgmt/tm/sys/ucs"
	PathBackup       = "/mgmt/tm/shared/sys/backup"
	PathQkview       = "/mgmt/cm/autodeploy/qkview"
	PathPackageTasks = "/mgmt/shared/iapp/package-management-tasks"
	PathBash         = "/mgmt/tm/util/bash"
	PathRestnoded    = "/mgmt/tm/sys/service/restnoded/stats"

	PathAS3Info    = "/mgmt/shared/appsvcs/info"
	PathAS3Declare = "/mgmt/shared/appsvcs/declare"
	PathAS3Task    = "/mgmt/shared/appsvcs/task"

	PathDOInfo    = "/mgmt/shared/declarative-onboarding/info"
	PathDO        = "/mgmt/shared/declarative-onboarding"
	PathDOInspect = "/mgmt/shared/declarative-onboarding/inspect"
	PathDOTask    = "/mgmt/shared/declarative-onboarding/task"

	PathTSInfo    = "/mgmt/shared/telemetry/info"
	PathTSDeclare = "/mgmt/shared/telemetry/declare"

	PathCFInfo    = "/mgmt/shared/cloud-failover/info"
	PathCFDeclare = "/mgmt/shared/cloud-failover/declare"
	PathCFInspect = "/mgmt/shared/cloud-failover/inspect"
	PathCFTrigger = "/mgmt/shared/cloud-failover/trigger"
	PathCFReset   = "/mgmt/shared/cloud-failover/reset"

	PathFASTInfo         = "/mgmt/shared/fast/info"
	PathFASTTemplateSets = "/mgmt/shared/fast/templatesets"
	PathFASTApplications = "/mgmt/shared/fast/applications"
	PathFASTTasks        = "/mgmt/shared/fast/tasks"
)

// RemoteDownloadsDir is where the FILE upload endpoint stores files on the device.
const RemoteDownloadsDir = "/var/config/rest/downloads"

// Kind selects the file-transfer endpoint family.
type Kind string

const (
	KindFile   Kind = "FILE"
	KindISO    Kind = "ISO"
	KindUCS    Kind = "UCS"
	KindQkview Kind = "QKVIEW"
)

// UploadPath returns the upload base for k.
func UploadPath(k Kind) (string, error) {
	switch k {
	case KindFile:
		return PathFileUploads, nil
	case KindISO:
		return PathISOUploads, nil
	case KindUCS:
		return PathUCSUploads, nil
	default:
		return "", fmt.Errorf("no upload endpoint for kind %q", k)
	}
}

// DownloadPath returns the download base for k.
func DownloadPath(k Kind) (string, error) {
	switch k {
	case KindFile:
		return PathFileDownloads, nil
	case KindISO:
		return PathISODownloads, nil
	case KindUCS:
		return PathUCSDownloads, nil
	case KindQkview:
		return PathQkviewDownloads, nil
	default:
		return "", fmt.Errorf("no download endpoint for kind %q", k)
	}
}
