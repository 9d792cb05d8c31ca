// Moderation rules engine for anime wallpaper communities.
//
// This package (`github.com/LZ58840/AnimewallpaperBot/automod`) contains a "rules engine" which checks each new submission of a community against the rules its moderators enabled: image resolution and aspect ratio, link flair, posting rate, source comments, and reposts of images already posted. Rules run concurrently; the first rule asking for removal stops the others, and the submission is removed with one combined explanation comment. Submissions which pass are left alone, with any warnings recorded for moderators.
//
// See `automod/engine` for the orchestration, `automod/rules` for the rule catalogue, and `cmd/awb` for a daemon built on these packages.
package automod
