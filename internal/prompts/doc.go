// Package prompts contains the prompt text sent to the completion model.
//
// Prompt text is Go code rather than a config file because it is program
// logic: it interpolates runtime values and is checked by tests. Each
// prompt exposes a function that accepts the dynamic parts and returns
// the finished string.
package prompts
