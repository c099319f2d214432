package phases

import "github.com/klarnow/tracker/common/models"

func strPtr(s string) *string { return &s }

// DefaultRegistry returns the built-in Launch Kit and Growth Kit phases
func DefaultRegistry() *Registry {
	return MustNewRegistry(map[models.KitType][]PhaseTemplate{
		models.KitLaunch: launchKitPhases(),
		models.KitGrowth: growthKitPhases(),
	})
}

func launchKitPhases() []PhaseTemplate {
	return []PhaseTemplate{
		{
			PhaseID:     "PHASE_1",
			PhaseNumber: 1,
			Title:       "Inputs & clarity",
			Subtitle:    strPtr("Lock the message and plan."),
			DayRange:    "Days 0-2",
			Checklist: []string{
				"Onboarding steps completed",
				"Brand / strategy call completed",
				"Simple 14 day plan agreed",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_2",
			PhaseNumber: 2,
			Title:       "Words that sell",
			Subtitle:    strPtr("We write your 3 pages."),
			DayRange:    "Days 3-5",
			Checklist: []string{
				"Draft homepage copy ready",
				"Draft offer / services page ready",
				"Draft contact / about copy ready",
				"You reviewed and approved copy",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_3",
			PhaseNumber: 3,
			Title:       "Design & build",
			Subtitle:    strPtr("We turn copy into a 3 page site."),
			DayRange:    "Days 6-10",
			Checklist: []string{
				"Site layout built for all 3 pages",
				"Mobile checks done",
				"Testimonials and proof added",
				"Staging link shared with you",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_4",
			PhaseNumber: 4,
			Title:       "Test & launch",
			Subtitle:    strPtr("We connect domain, test and go live."),
			DayRange:    "Days 11-14",
			Checklist: []string{
				"Forms tested",
				"Domain connected",
				"Final tweaks applied",
				"Loom walkthrough recorded and shared",
			},
			Links: []Link{},
		},
	}
}

func growthKitPhases() []PhaseTemplate {
	return []PhaseTemplate{
		{
			PhaseID:     "PHASE_1",
			PhaseNumber: 1,
			Title:       "Strategy locked in",
			Subtitle:    strPtr("Offer, goal and funnel map agreed."),
			DayRange:    "Days 0-2",
			Checklist: []string{
				"Onboarding complete",
				"Strategy / funnel call done",
				"Main offer + 90 day goal confirmed",
				"Simple funnel map agreed",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_2",
			PhaseNumber: 2,
			Title:       "Copy & email engine",
			Subtitle:    strPtr("We write your site copy and 5 emails."),
			DayRange:    "Days 3-5",
			Checklist: []string{
				"Draft website copy ready",
				"Draft 5-email nurture sequence ready",
				"You reviewed and approved copy",
				"Any changes locked in",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_3",
			PhaseNumber: 3,
			Title:       "Build the funnel",
			Subtitle:    strPtr("Pages, lead magnet and blog hub built."),
			DayRange:    "Days 6-10",
			Checklist: []string{
				"4-6 page site built on staging",
				"Lead magnet page + thank you page built",
				"Opt-in forms wired to email platform",
				"Blog hub and 1-2 starter posts set up",
				"Staging link shared",
			},
			Links: []Link{},
		},
		{
			PhaseID:     "PHASE_4",
			PhaseNumber: 4,
			Title:       "Test, launch & handover",
			Subtitle:    strPtr("We test the full journey and go live."),
			DayRange:    "Days 11-14",
			Checklist: []string{
				"Funnel tested from first visit to booked call",
				"Domain connected",
				"Tracking checked (Analytics / pixels)",
				"5-email sequence switched on",
				"Loom walkthrough recorded and shared",
			},
			Links: []Link{},
		},
	}
}
