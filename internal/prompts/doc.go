// Package prompts contains the LLM prompt text used by grantdesk.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Convention: each prompt category gets its own file with an
// exported function (or constant) returning the interpolated prompt.
package prompts
