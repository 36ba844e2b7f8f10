package detectors

import "strings"

// StackClassifier recognizes call stacks (innermost frame first) that reached
// a sink through reflection, deserialization or evaluated code.
type StackClassifier interface {
	Classify(stack []string) (message string, ok bool)
}

// StackClassifiers selects a classifier by server language tag.
type StackClassifiers map[string]StackClassifier

// Classify runs the classifier registered for language. Unknown languages
// are never flagged.
func (c StackClassifiers) Classify(language string, stack []string) (string, bool) {
	classifier, ok := c[strings.ToLower(language)]
	if !ok || len(stack) == 0 {
		return "", false
	}
	return classifier.Classify(stack)
}

const javaReflectInvoke = "java.lang.reflect.Method.invoke"

// Frames through which a command is typically reached by an exploit.
var javaSinkFrames = map[string]string{
	javaReflectInvoke:                                                              "command executed through reflection",
	"ognl.OgnlRuntime.invokeMethod":                                                "command executed through OGNL",
	"com.thoughtworks.xstream.XStream.unmarshal":                                   "command executed through XStream deserialization",
	"org.apache.commons.collections4.functors.InvokerTransformer.transform":        "command executed through transformer deserialization",
	"org.jolokia.jsr160.Jsr160RequestDispatcher.dispatchRequest":                   "command executed through JNDI injection",
	"com.alibaba.fastjson.parser.deserializer.JavaBeanDeserializer.deserialze":     "command executed through fastjson deserialization",
	"org.springframework.expression.spel.support.ReflectiveMethodExecutor.execute": "command executed through a Spring SpEL expression",
	"freemarker.template.utility.Execute.exec":                                     "command executed through a FreeMarker template",
}

// JavaStackClassifier walks a JVM stack. A reflective Method.invoke only
// counts when no application frame sits between it and the command, so an
// application running its own commands reflectively is not flagged.
//
// The walk starts at frame 0, so the caller must strip the agent's own hook
// frames before sending the stack.
type JavaStackClassifier struct{}

func (JavaStackClassifier) Classify(stack []string) (string, bool) {
	userCode := false
	message := ""
	for _, frame := range stack {
		if strings.HasPrefix(frame, "ysoserial.Pwner") {
			return "ysoserial exploit, deserialization attack", true
		}
		if frame == "org.codehaus.groovy.runtime.ProcessGroovyMethods.execute" {
			return "command executed through a Groovy script", true
		}
		if !isJavaRuntimeFrame(frame) {
			userCode = true
		}
		msg, ok := javaSinkFrames[frame]
		if !ok {
			continue
		}
		if userCode && frame == javaReflectInvoke {
			continue
		}
		// outermost match wins
		message = msg
	}
	return message, message != ""
}

func isJavaRuntimeFrame(frame string) bool {
	return strings.HasPrefix(frame, "java.") ||
		strings.HasPrefix(frame, "sun.") ||
		strings.HasPrefix(frame, "com.sun.")
}

var phpEvalMarkers = []string{
	"eval()'d code",
	"runtime-created function",
	"assert code@",
	"regexp code@",
}

// PHPStackClassifier flags frames produced by eval, assert, create_function
// and preg_replace /e, and call_user_func close to the sink.
type PHPStackClassifier struct{}

func (PHPStackClassifier) Classify(stack []string) (string, bool) {
	for i, frame := range stack {
		for _, marker := range phpEvalMarkers {
			if strings.Contains(frame, marker) {
				return "webshell or eval-type code execution", true
			}
		}
		if i <= 3 && strings.Contains(frame, "@call_user_func") {
			return "webshell or eval-type code execution", true
		}
	}
	return "", false
}

// DefaultStackClassifiers returns the classifiers for command execution.
func DefaultStackClassifiers() StackClassifiers {
	return StackClassifiers{
		"java": JavaStackClassifier{},
		"php":  PHPStackClassifier{},
	}
}
