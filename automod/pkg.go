package automod

import (
	"github.com/LZ58840/AnimewallpaperBot/automod/countstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
)

type Engine = engine.Engine
type RuleSet = engine.RuleSet
type RuleEntry = engine.RuleEntry
type Rule = engine.Rule
type RuleContext = engine.RuleContext
type RuleBook = engine.RuleBook
type Outcome = engine.Outcome
type Result = engine.Result
type Decision = engine.Decision
type Response = engine.Response
type Submission = engine.Submission

type Notifier = engine.Notifier
type Notification = engine.Notification
type SlackNotifier = engine.SlackNotifier
type DiscordNotifier = engine.DiscordNotifier

var (
	PeriodTotal = countstore.PeriodTotal
	PeriodDay   = countstore.PeriodDay
	PeriodHour  = countstore.PeriodHour

	Remove = engine.Remove
	Warn   = engine.Warn
)
