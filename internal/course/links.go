package course

import (
	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/types"
)

// LinkSpecs are the course link handlers every installation has.
var LinkSpecs = []contentlinks.LinkSpec{
	{
		Name:     "CoreCourseLinkHandler",
		Pattern:  `/course/view\.php.*([?&]id=\d+)`,
		Route:    "course/{courseId}",
		Required: []string{"id"},
		Params:   map[string]string{"courseId": "id", "sectionId": "section"},
	},
	{
		Name:     "CoreUserParticipantsLinkHandler",
		Pattern:  `/user/index\.php.*([?&]id=\d+)`,
		Feature:  "CoreCourseOptionsDelegate_CoreUserParticipants",
		Route:    "course/{courseId}/participants",
		Message:  "core.user.participants",
		Icon:     "people",
		Required: []string{"id"},
		Params:   map[string]string{"courseId": "id"},
	},
	{
		Name:     "CoreCourseModuleIndexLinkHandler",
		Pattern:  `/mod/([a-z0-9]+)/index\.php.*([?&]id=\d+)`,
		Route:    "course/{courseId}/modules",
		Required: []string{"id"},
		Params:   map[string]string{"courseId": "id"},
	},
}

// LinkHandlers builds the course link handlers.
func LinkHandlers(nav types.Navigator) ([]*contentlinks.ManifestHandler, error) {
	return contentlinks.BuildHandlers(LinkSpecs, nav)
}
