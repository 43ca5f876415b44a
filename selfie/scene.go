package selfie

import (
	"math/rand"
	"strings"
)

// Scene is one composed shot: the descriptors drawn for the activity
// plus the assembled prompt.
type Scene struct {
	Activity    Activity
	Pose        string
	Environment string
	Expression  string
	Lighting    string
	Prompt      string
}

// descriptorPool holds the candidate descriptors for one activity type.
type descriptorPool struct {
	poses        []string
	environments []string
	expressions  []string
	lighting     []string
}

var pools = map[ActivityType]descriptorPool{
	ActivitySleep: {
		poses:        []string{"curled up under a blanket", "stretching sleepily", "hugging a pillow"},
		environments: []string{"dim bedroom", "bed with soft sheets", "room lit by a night lamp"},
		expressions:  []string{"drowsy half-closed eyes", "peaceful sleeping face", "sleepy yawn"},
		lighting:     []string{"soft warm lamplight", "faint moonlight through curtains"},
	},
	ActivityWork: {
		poses:        []string{"typing at a laptop", "leaning over a desk with papers", "holding a coffee mug mid-thought"},
		environments: []string{"tidy home office", "open-plan office with monitors", "desk by a window"},
		expressions:  []string{"focused gaze", "slight concentrated frown", "confident small smile"},
		lighting:     []string{"cool screen glow", "bright daylight from a window", "neutral office lighting"},
	},
	ActivityStudy: {
		poses:        []string{"reading with chin on hand", "taking notes in a notebook", "surrounded by open books"},
		environments: []string{"quiet library corner", "desk stacked with textbooks", "cozy study nook"},
		expressions:  []string{"thoughtful look", "eyebrows raised in discovery", "quiet determination"},
		lighting:     []string{"warm desk lamp", "diffused afternoon light"},
	},
	ActivityExercise: {
		poses:        []string{"mid-stride jogging", "holding a yoga pose", "wiping sweat with a towel"},
		environments: []string{"park trail at dawn", "bright gym floor", "mat by a sunny window"},
		expressions:  []string{"energized grin", "determined focus", "breathless laugh"},
		lighting:     []string{"golden morning sun", "crisp fluorescent gym light"},
	},
	ActivityMeal: {
		poses:        []string{"lifting chopsticks over a bowl", "holding a steaming cup with both hands", "reaching for a shared plate"},
		environments: []string{"cozy kitchen table", "busy ramen shop counter", "sunlit cafe"},
		expressions:  []string{"delighted first-bite smile", "content closed-eye tasting", "playful glance at the camera"},
		lighting:     []string{"warm overhead pendant light", "bright cafe daylight"},
	},
	ActivityLeisure: {
		poses:        []string{"lounging on a sofa with a controller", "flipping through a magazine", "headphones on, eyes closed"},
		environments: []string{"living room with fairy lights", "balcony with potted plants", "cozy blanket fort"},
		expressions:  []string{"relaxed easy smile", "amused smirk", "daydreaming gaze"},
		lighting:     []string{"soft evening glow", "colorful TV light"},
	},
	ActivityOuting: {
		poses:        []string{"walking with a tote bag", "pointing at something off-frame", "posing in front of a storefront"},
		environments: []string{"lively shopping street", "riverside promenade", "autumn park path"},
		expressions:  []string{"bright open smile", "wind-blown laugh", "curious wide eyes"},
		lighting:     []string{"clear midday sun", "warm sunset backlight", "neon evening lights"},
	},
	ActivityChores: {
		poses:        []string{"sleeves rolled up washing dishes", "carrying a laundry basket", "sweeping with a broom"},
		environments: []string{"bright kitchen", "laundry corner with hanging clothes", "hallway mid-cleanup"},
		expressions:  []string{"mock-exasperated pout", "satisfied nod at a clean room", "humming a tune"},
		lighting:     []string{"plain daylight", "warm afternoon light"},
	},
}

// Composer draws random descriptors for an activity and assembles the
// generation prompt.
type Composer struct {
	// BasePrompt carries the persona's appearance fragment, prepended to
	// every composed prompt.
	BasePrompt string

	rng *rand.Rand
}

// NewComposer creates a Composer. A nil rng falls back to the shared
// global source.
func NewComposer(basePrompt string, rng *rand.Rand) *Composer {
	return &Composer{BasePrompt: basePrompt, rng: rng}
}

func (c *Composer) pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	if c.rng != nil {
		return list[c.rng.Intn(len(list))]
	}
	return list[rand.Intn(len(list))]
}

// Compose builds a scene for the given activity. The activity title and
// location feed the prompt alongside the drawn descriptors.
func (c *Composer) Compose(activity Activity) Scene {
	pool, ok := pools[activity.Type]
	if !ok {
		pool = pools[ActivityLeisure]
	}

	scene := Scene{
		Activity:    activity,
		Pose:        c.pick(pool.poses),
		Environment: c.pick(pool.environments),
		Expression:  c.pick(pool.expressions),
		Lighting:    c.pick(pool.lighting),
	}

	parts := []string{c.BasePrompt, "candid selfie", scene.Pose, scene.Expression, scene.Environment}
	if activity.Location != "" {
		parts = append(parts, "at "+activity.Location)
	}
	parts = append(parts, scene.Lighting)

	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	scene.Prompt = strings.Join(kept, ", ")
	return scene
}
