// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt holds the prompt texts used by the expert and patient sides
// of the benchmark, plus the builders that assemble them into message lists.
// Task prompts are data: each abstention strategy picks its text (and its
// rationale-generation variant) from here, so adding a strategy never means
// editing a prompt switch.
package prompt

import (
	"fmt"
	"strings"

	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/record"
)

// ExpertSystem is the system message for every expert-side prompt.
const ExpertSystem = "You are a medical doctor answering real-world medical entrance exam questions. Based on your understanding of basic and clinical science, medical knowledge, and mechanisms underlying health, disease, patient care, and modes of therapy, answer the following multiple choice question. Base your answer on the current and standard practices referenced in medical guidelines."

// Labels used when rendering the conversation log.
const (
	QuestionWord = "Doctor Question"
	AnswerWord   = "Patient Response"
)

// Task prompts for the abstention strategies. The *RG variants ask the model
// to emit a REASON line before its decision.
const (
	TaskImplicit = "Given the information so far, if you are confident to pick an option correctly and factually, respond with the letter choice and NOTHING ELSE. Otherwise, if you are not confident to pick an option and need more information, ask ONE SPECIFIC ATOMIC QUESTION to the patient. The question should be bite-sized, NOT ask for too much at once, and NOT repeat what has already been asked. In this case, respond with the atomic question and NOTHING ELSE."

	TaskImplicitRG = "Given the information so far, if you are confident to pick an option correctly and factually, respond in the format:\nREASON: a one-sentence explanation of why you are choosing a particular option.\nANSWER: the letter choice and NOTHING ELSE. Otherwise, if you are not confident to pick an option and need more information, ask ONE SPECIFIC ATOMIC QUESTION to the patient. The question should be bite-sized, NOT ask for too much at once, and NOT repeat what has already been asked. In this case, respond in the format:\nREASON: a one-sentence explanation of why you should ask the particular question.\nQUESTION: the atomic question and NOTHING ELSE."

	TaskBinary = "Medical conditions are complex, so you should seek to understand their situations across many features. First, consider which medical specialty is this patient's case; then, consider a list of necessary features a doctor would need to make the right medical judgment; finally, consider whether all necessary information is given in the conversation above. Now, are you confident to pick the correct option to the inquiry factually using the conversation log? Answer with YES or NO and NOTHING ELSE."

	TaskBinaryRG = "Medical conditions are complex, so you should seek to understand their situations across many features. First, consider which medical specialty is this patient's case; then, consider a list of necessary features a doctor would need to make the right medical judgment; finally, consider whether all necessary information is given in the conversation above. Up to this point, are you confident to pick the correct option to the inquiry factually using the conversation log? Answer in the following format:\nREASON: a one-sentence explanation of why you are or are not confident and what other information is needed.\nDECISION: YES or NO."

	TaskNumerical = "Medical conditions are complex, so you should seek to understand their situations across many features. First, consider which medical specialty is this patient's case; then, consider a list of necessary features a doctor would need to make the right medical judgment; finally, consider whether all necessary information is given in the conversation above. What is your confidence score to pick the correct option to the inquiry factually using the conversation log? Answer with the probability as a float from 0.0 to 1.0 and NOTHING ELSE."

	TaskNumericalRG = "Medical conditions are complex, so you should seek to understand their situations across many features. First, consider which medical specialty is this patient's case; then, consider a list of necessary features a doctor would need to make the right medical judgment; finally, consider whether all necessary information is given in the conversation above. What is your confidence score to pick the correct option to the inquiry factually using the conversation log? Answer strictly in the following format:\nREASON: a one-sentence explanation of why you are or are not confident and what other information is needed.\nSCORE: your confidence score written as a float from 0.0 to 1.0."

	TaskYesNoFollowUp = "Now, are you confident to pick the correct option to the inquiry factually using the conversation log? Answer with YES or NO and NOTHING ELSE."

	TaskAnswer = "Assume that you already have enough information from the above question-answer pairs to answer the patient inquiry, use the above information to produce a factual conclusion. Respond with the correct letter choice (A, B, C, or D) and NOTHING ELSE.\nLETTER CHOICE: "

	TaskAtomicQuestion = "If there are missing features that prevent you from picking a confident and factual answer to the inquiry, consider which features are not yet asked about in the conversation log; then, consider which missing feature is the most important to ask the patient in order to provide the most helpful information toward a correct medical decision. You can ask about any relevant information about the patient's case, such as family history, tests and exams results, treatments already done, etc. Consider what are the common questions asked in the specific subject relating to the patient's known symptoms, and what the best and most intuitive doctor would ask. Ask ONE SPECIFIC ATOMIC QUESTION to address this feature. The question should be bite-sized, and NOT ask for too much at once. Make sure to NOT repeat any questions from the above conversation log. Answer in the following format:\nATOMIC QUESTION: the atomic question and NOTHING ELSE.\nATOMIC QUESTION: "
)

// scaleRatings describes the five Likert ratings offered by the scale
// strategy.
const scaleRatings = `"Very Confident" - The correct option is supported by all evidence, and there is enough evidence to eliminate the rest of the answers, so the option can be confirmed conclusively.
"Somewhat Confident" - I have reasonably enough information to tell that the correct option is more likely than other options, more information is helpful to make a conclusive decision.
"Neither Confident or Unconfident" - There are evident supporting the correct option, but further evidence is needed to be sure which one is the correct option.
"Somewhat Unconfident" - There are evidence supporting more than one options, therefore more questions are needed to further distinguish the options.
"Very Unconfident" - There are not enough evidence supporting any of the options, the likelihood of picking the correct option at this point is near random guessing.`

const scalePreamble = "Medical conditions are complex, so you should seek to understand their situations across many features. First, consider which medical specialty is this patient's case; then, consider a list of necessary features a doctor would need to make the right medical judgment; finally, consider whether all necessary information is given in the conversation above. How confident are you to pick the correct option to the problem factually using the conversation log? Choose between the following ratings:\n"

// TaskScale asks for one of the five confidence ratings.
var TaskScale = scalePreamble + scaleRatings + "\n\nThink carefully step by step, respond with the chosen confidence rating ONLY and NOTHING ELSE."

// TaskScaleRG is the rationale-generation variant of TaskScale.
var TaskScaleRG = scalePreamble + scaleRatings + "\n\nAnswer in the following format:\nREASON: a one-sentence explanation of why you are or are not confident and what other information is needed.\nDECISION: chosen rating from the above list."

// Patient-side prompts.
const (
	PatientSystem = "You are a truthful assistant that understands the patient's information, and you are trying to answer questions from a medical doctor about the patient."

	// Refusal is the fixed string the patient uses when the context cannot
	// answer the doctor's question.
	Refusal = "The patient cannot answer this question, please do not ask this question again."

	DecompositionSystem = "You are a truthful medical assistant that understands the patient's information."
)

// DecompositionPrompt asks the patient model to break the context paragraph
// into self-contained atomic facts.
func DecompositionPrompt(contextPara string) string {
	return fmt.Sprintf("Break the following patient information into a list of independent atomic facts, with one piece of information in each statement. Each fact should only include the smallest unit of information, but should be self-contained.\n%q\nResponse with the list of atomic facts and nothing else, prepend each fact by an index starting from 1. No sub-list allowed.", contextPara)
}

// FactSelectPrompt asks the patient model to answer by quoting the facts that
// answer the doctor's question verbatim, or to refuse.
func FactSelectPrompt(facts []string, question string) string {
	var sb strings.Builder
	sb.WriteString("Below is a list of factual statements about the patient:\n\n")
	for i, fact := range facts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, fact)
	}
	sb.WriteString("\nWhich of the above atomic factual statements answers the question? If no statement answers the question, simply say ")
	fmt.Fprintf(&sb, "%q. ", Refusal)
	sb.WriteString("Answer only what the question asks for. Do not provide any analysis, inference, or implications. Respond with all statements that directly answer the question from above verbatim ONLY and NOTHING ELSE, with one statement on each line.\n\n")
	fmt.Fprintf(&sb, "Question from the doctor: %q\n", question)
	return sb.String()
}

// DirectPrompt builds the minimal answering prompt used by the direct patient
// variant, which sees only the presenting statement.
func DirectPrompt(initialInfo, question string) string {
	return fmt.Sprintf("Context: %q\nQuestion: %q\n", initialInfo, question)
}

// InstructPrompt builds the instruction-following answering prompt used by
// the instruct patient variant, which sees the full context paragraph.
func InstructPrompt(contextPara, question string) string {
	return fmt.Sprintf("Below is a context paragraph describing the patient and their conditions:\n%q\nQuestion from the doctor: %q\nUse the context paragraph to answer the doctor's question. If the paragraph does not answer the question, simply say %q Answer only what the question asks for. Do not provide any analysis, inference, or implications. Respond with a straightforward answer to the question ONLY and NOTHING ELSE.", contextPara, question, Refusal)
}

// ConversationLog renders the interaction history as alternating doctor and
// patient lines, or "None" when no exchange has happened yet.
func ConversationLog(history []record.QA) string {
	if len(history) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(history))
	for _, qa := range history {
		lines = append(lines, fmt.Sprintf("%s: %s\n%s: %s", QuestionWord, qa.Question, AnswerWord, qa.Answer))
	}
	return strings.Join(lines, "\n")
}

// OptionsText renders the four options on one line in letter order.
func OptionsText(options map[string]string) string {
	return fmt.Sprintf("A: %s, B: %s, C: %s, D: %s", options["A"], options["B"], options["C"], options["D"])
}

// Skeleton assembles the shared expert prompt: patient information, the
// conversation log, the inquiry, the options, and the strategy-specific task.
func Skeleton(state record.PatientState, inquiry string, options map[string]string, task string) string {
	var sb strings.Builder
	sb.WriteString("A patient comes into the clinic presenting with a symptom as described in the conversation log below:\n    \n")
	sb.WriteString("PATIENT INFORMATION: ")
	sb.WriteString(state.InitialInfo)
	sb.WriteString("\nCONVERSATION LOG:\n")
	sb.WriteString(ConversationLog(state.InteractionHistory))
	sb.WriteString("\nQUESTION: ")
	sb.WriteString(inquiry)
	sb.WriteString("\nOPTIONS: ")
	sb.WriteString(OptionsText(options))
	sb.WriteString("\nYOUR TASK: ")
	sb.WriteString(task)
	return sb.String()
}

// ExpertMessages wraps the skeleton in the expert system message.
func ExpertMessages(state record.PatientState, inquiry string, options map[string]string, task string) []generator.Message {
	return []generator.Message{
		{Role: generator.RoleSystem, Content: ExpertSystem},
		{Role: generator.RoleUser, Content: Skeleton(state, inquiry, options, task)},
	}
}
