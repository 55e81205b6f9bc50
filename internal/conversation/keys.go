package conversation

// Context keys written by the state machine.
const (
	KeyLastCheckIn           = "last_check_in"
	KeyEmotionalState        = "emotional_state"
	KeyEnergyLevel           = "energy_level"
	KeySupportNeeded         = "support_needed"
	KeyKeyEmotions           = "key_emotions"
	KeyRecommendedTaskCount  = "recommended_task_count"
	KeyPlanningType          = "planning_type"
	KeyPendingCheckins       = "pending_checkins"
	KeyMissedCheckins        = "missed_checkins"
	KeyConversationTurns     = "conversation_turns"
	KeyPendingTaskIndex      = "pending_task_index"
	KeyPendingTaskGeneration = "pending_task_generation"
	KeyPendingChoices        = "pending_choices"
	KeyLastChoiceOrigin      = "last_choice_origin"
	KeySupportChoice         = "support_choice"
	KeySelfCareSuggestions   = "self_care_suggestions"
	KeyCheckinCount          = "checkin_count"
)

// Planning modes stored under KeyPlanningType.
const (
	PlanningDaily  = "daily"
	PlanningWeekly = "weekly"
)

// Button ids.
const (
	ButtonTalkFeelings     = "talk_feelings"
	ButtonJustTalk         = "just_talk"
	ButtonSmallTask        = "small_task"
	ButtonSelfCare         = "self_care"
	ButtonStuckOverwhelmed = "stuck_overwhelmed"
	ButtonStuckUnclear     = "stuck_unclear"
	ButtonStuckPause       = "stuck_pause"
	ButtonPlanWeekly       = "weekly"
	ButtonPlanDaily        = "daily"
)
