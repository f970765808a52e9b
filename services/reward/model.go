package reward

// ActionType is the closed enumeration of rewardable contribution
// kinds. The numeric codes mirror the registry contract's enum and must
// not be reordered.
type ActionType string

const (
	ActionMessage       ActionType = "MESSAGE"
	ActionJourney       ActionType = "JOURNEY"
	ActionReferral      ActionType = "REFERRAL"
	ActionDailyCheckin  ActionType = "DAILY_CHECKIN"
	ActionStreakBonus   ActionType = "STREAK_BONUS"
	ActionAchievement   ActionType = "ACHIEVEMENT"
	ActionCommunityTask ActionType = "COMMUNITY_TASK"
	ActionQualityBonus  ActionType = "QUALITY_BONUS"
	ActionViralContent  ActionType = "VIRAL_CONTENT"
	ActionCustom        ActionType = "CUSTOM"
)

var actionCodes = map[ActionType]uint8{
	ActionMessage:       0,
	ActionJourney:       1,
	ActionReferral:      2,
	ActionDailyCheckin:  3,
	ActionStreakBonus:   4,
	ActionAchievement:   5,
	ActionCommunityTask: 6,
	ActionQualityBonus:  7,
	ActionViralContent:  8,
	ActionCustom:        9,
}

func (t ActionType) Valid() bool {
	_, ok := actionCodes[t]
	return ok
}

func (t ActionType) Code() uint8 {
	return actionCodes[t]
}

func (t ActionType) String() string {
	return string(t)
}

// Estimate is the advisory reward amount returned to the caller at
// queue time. Provisional marks estimates computed with the fallback
// formula because the ledger configuration was unreachable; the
// authoritative amount is whatever the ledger confirms at settlement.
type Estimate struct {
	Amount      float64
	Provisional bool
}
